package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

var statusRunID string

// statusCmd creates the "status" subcommand.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run status against an existing database",
		Long:  "With --run-id, show one run's detail and queue depth. Without it, list the most recent runs.",
		RunE:  runStatus,
	}
	cmd.Flags().StringVar(&statusRunID, "run-id", "", "show detail for a single run id")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	if statusRunID != "" {
		return printRunDetail(ctx, st, statusRunID)
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	fmt.Printf("%-36s %-20s %-12s %s\n", "RUN ID", "SCRAPER", "STATUS", "STARTED")
	for _, r := range runs {
		fmt.Printf("%-36s %-20s %-12s %s\n", r.ID, r.ScraperName, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printRunDetail(ctx context.Context, st *store.Store, runID string) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("no run found with id %q", runID)
	}

	pending, err := st.CountPending(ctx, runID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	inProgress, err := st.CountInProgress(ctx, runID)
	if err != nil {
		return fmt.Errorf("count in-progress: %w", err)
	}

	fmt.Printf("Run:        %s\n", run.ID)
	fmt.Printf("Scraper:    %s %s\n", run.ScraperName, run.ScraperVersion)
	fmt.Printf("Status:     %s\n", run.Status)
	fmt.Printf("Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.EndedAt != nil {
		fmt.Printf("Ended:      %s\n", run.EndedAt.Format("2006-01-02 15:04:05"))
	}
	if run.FinalError != nil {
		fmt.Printf("Error:      %s\n", *run.FinalError)
	}
	fmt.Printf("Pending:    %d\n", pending)
	fmt.Printf("InProgress: %d\n", inProgress)
	return nil
}
