package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlstream/crawl-relay/internal/app"
	"github.com/crawlstream/crawl-relay/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay service",
		Long: `Starts the full relay: the HTTP/WebSocket front end, the result
consumer, and (when enabled) the embedded crawl worker. Blocks until
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}
