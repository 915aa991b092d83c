package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crawlkeep/crawlkeep/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crawlkeep",
		Short: "crawlkeep — a crash-resumable web scraping driver",
		Long: `crawlkeep runs scrapers registered against its catalog, persisting
every request, response, result and error to an embedded SQLite store so a
run can be inspected, requeued or resumed after the process exits.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listErrorsCmd())
	rootCmd.AddCommand(requeueCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogger creates a structured logger writing to stderr, matching the
// teacher's cmd/webstalk/main.go.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// loadConfig loads configuration from cfgFile, falling back to the search
// path defaults when cfgFile is empty.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
