package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Storage:\n")
			fmt.Printf("  DB Path:            %s\n", cfg.Storage.DBPath)
			fmt.Printf("  Archive Dir:        %s\n", cfg.Storage.ArchiveDir)
			fmt.Printf("\nRate Limiter:\n")
			fmt.Printf("  Initial Rate:       %.2f req/s\n", cfg.RateLimiter.InitialRate)
			fmt.Printf("  Bucket Size:        %.2f\n", cfg.RateLimiter.BucketSize)
			fmt.Printf("  Rate Range:         %.2f - %.2f req/s\n", cfg.RateLimiter.MinRate, cfg.RateLimiter.MaxRate)
			fmt.Printf("\nRetry:\n")
			fmt.Printf("  Base Delay:         %s\n", cfg.Retry.BaseDelay)
			fmt.Printf("  Max Backoff:        %s\n", cfg.Retry.MaxBackoff)
			fmt.Printf("\nSpeculation:\n")
			fmt.Printf("  Revive Cron:        %q\n", cfg.Speculation.ReviveCron)
			fmt.Printf("  Revive Window:      %d\n", cfg.Speculation.ReviveWindow)
			fmt.Printf("\nWorker:\n")
			fmt.Printf("  Max Workers:        %d\n", cfg.Worker.MaxWorkers)
			fmt.Printf("  Initial Workers:    %d\n", cfg.Worker.InitialWorkers)
			fmt.Printf("\nCompression:\n")
			fmt.Printf("  Training Samples:   %d\n", cfg.Compression.TrainingSampleSize)
			fmt.Printf("  Max Dict Bytes:     %d\n", cfg.Compression.MaxDictBytes)
			fmt.Printf("\nFetch:\n")
			fmt.Printf("  Request Timeout:    %s\n", cfg.Fetch.RequestTimeout)
			fmt.Printf("  Max Redirects:      %d\n", cfg.Fetch.MaxRedirects)
			fmt.Printf("  User Agents:        %d configured\n", len(cfg.Fetch.UserAgents))
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:            %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:               %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}
