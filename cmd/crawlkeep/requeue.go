package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

var (
	requeueType         string
	requeueContinuation string
)

// requeueCmd creates the "requeue" subcommand.
func requeueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue [error-id]",
		Short: "Clone the request behind a recorded error and resolve the error",
		Long: `Clones the request that produced an error into a new pending request
and marks the error resolved with a back-reference to it. Pass an error id
(see list-errors) to requeue a single error, or --type/--continuation with
no positional argument to requeue every unresolved error matching the
filter.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRequeue,
	}
	cmd.Flags().StringVar(&requeueType, "type", "", "requeue every unresolved error of this kind instead of a single error id")
	cmd.Flags().StringVar(&requeueContinuation, "continuation", "", "requeue every unresolved error against this continuation instead of a single error id")
	return cmd
}

func runRequeue(cmd *cobra.Command, args []string) error {
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

	if len(args) == 0 {
		if requeueType == "" && requeueContinuation == "" {
			return fmt.Errorf("requeue: pass an error id, or --type/--continuation to requeue in bulk")
		}
		newIDs, err := st.RequeueErrorsByType(ctx, requeueType, requeueContinuation)
		if err != nil {
			return fmt.Errorf("requeue errors by type: %w", err)
		}
		if len(newIDs) == 0 {
			fmt.Println("no matching unresolved errors")
			return nil
		}
		fmt.Printf("requeued %d error(s) as new requests: %v\n", len(newIDs), newIDs)
		return nil
	}

	errorID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid error id %q: %w", args[0], err)
	}

	res, err := st.RequeueError(ctx, errorID)
	if err != nil {
		return fmt.Errorf("requeue error: %w", err)
	}

	fmt.Printf("error %d resolved, requeued as request %d\n", res.ResolvedErrorIDs[0], res.RequeuedRequestIDs[0])
	return nil
}
