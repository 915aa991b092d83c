package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	crawlkeep "github.com/crawlkeep/crawlkeep/pkg/crawlkeep"

	"github.com/crawlkeep/crawlkeep/internal/scraper"
)

var (
	runEntry  string
	runResume string
)

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scraper-name]",
		Short: "Start a registered scraper by name",
		Long:  "Start a crawl for the scraper registered under the given name, persisting all state to the configured SQLite store.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().StringVar(&runEntry, "entry", "", "entry point name to seed (defaults to the scraper's first registered entry)")
	cmd.Flags().StringVar(&runResume, "resume", "", "resume a previously interrupted run id instead of starting a new one")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	def, ok := scraper.Lookup(name)
	if !ok {
		names := scraper.Default.Names()
		return fmt.Errorf("no scraper registered under name %q (registered: %v)", name, names)
	}

	entry := runEntry
	if entry == "" {
		if len(def.Entries) == 0 {
			return fmt.Errorf("scraper %q has no registered entries", name)
		}
		entry = def.Entries[0].Name
	}

	k := crawlkeep.New(
		crawlkeep.WithDBPath(cfg.Storage.DBPath),
		crawlkeep.WithArchiveDir(cfg.Storage.ArchiveDir),
		crawlkeep.WithMaxWorkers(cfg.Worker.MaxWorkers),
		crawlkeep.WithInitialWorkers(cfg.Worker.InitialWorkers),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling run", "signal", sig)
		cancel()
	}()

	var runID string
	if runResume != "" {
		runID, err = k.Resume(ctx, name, runResume)
		if err != nil {
			return fmt.Errorf("resume run: %w", err)
		}
		logger.Info("run resumed", "run_id", runID, "scraper", name)
	} else {
		runID, err = k.Start(ctx, name, scraper.EntryInvocation{EntryName: entry})
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		logger.Info("run started", "run_id", runID, "scraper", name, "entry", entry)
	}

	start := time.Now()
	if err := k.Wait(ctx); err != nil {
		k.Close()
		return fmt.Errorf("wait: %w", err)
	}
	if err := k.Close(); err != nil {
		logger.Warn("close error", "error", err)
	}

	fmt.Printf("run %s complete in %s\n", runID, time.Since(start).Round(time.Millisecond))
	return nil
}
