package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

var (
	listErrorsType         string
	listErrorsContinuation string
	listErrorsUnresolved   bool
	listErrorsOffset       int
	listErrorsLimit        int
)

// listErrorsCmd creates the "list-errors" subcommand.
func listErrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-errors",
		Short: "List recorded errors",
		RunE:  runListErrors,
	}
	cmd.Flags().StringVar(&listErrorsType, "type", "", "filter by error kind (structural, validation, transient, unknown)")
	cmd.Flags().StringVar(&listErrorsContinuation, "continuation", "", "filter by continuation name")
	cmd.Flags().BoolVar(&listErrorsUnresolved, "unresolved-only", false, "only show errors not yet marked resolved")
	cmd.Flags().IntVar(&listErrorsOffset, "offset", 0, "pagination offset")
	cmd.Flags().IntVar(&listErrorsLimit, "limit", 50, "maximum rows to return")
	return cmd
}

func runListErrors(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(ctx, cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rows, err := st.ListErrors(ctx, listErrorsType, listErrorsContinuation, listErrorsUnresolved, listErrorsOffset, listErrorsLimit)
	if err != nil {
		return fmt.Errorf("list errors: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no errors recorded")
		return nil
	}

	for _, e := range rows {
		requestID := "-"
		if e.RequestID != nil {
			requestID = fmt.Sprintf("%d", *e.RequestID)
		}
		fmt.Printf("[%d] request=%s type=%s url=%s\n    %s\n", e.ID, requestID, e.ErrorType, e.RequestURL, e.Message)
	}
	return nil
}
