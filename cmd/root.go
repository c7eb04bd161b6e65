// Package cmd defines the CLI commands for the crawl-relay executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl-relay",
		Short: "Relay long-running crawl tasks between clients and workers.",
		Long: `crawl-relay accepts crawl requests from connected clients, runs them
asynchronously through a message broker, and delivers each result to
whichever live connection belongs to the submitting identity, even
across client reconnects.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
