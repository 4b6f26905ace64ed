// Package cmd defines and implements the CLI commands for the sud-ai
// crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sudai",
		Short: "Crawler for published Uzbek court decisions.",
		Long: `sudai crawls the two court publication APIs (the current and the
legacy era), normalizes every decision into one canonical record,
extracts attachment text through the extraction service, and persists
per-page artifacts that make interrupted runs resumable.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults + SUDAI_* env)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
