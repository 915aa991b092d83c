package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlkeep/crawlkeep/internal/config"
)

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crawlkeep %s\n", config.Version)
		},
	}
}
