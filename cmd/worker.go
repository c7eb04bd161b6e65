package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlstream/crawl-relay/internal/app"
	"github.com/crawlstream/crawl-relay/internal/config"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the crawl worker",
		Long: `Consumes the request topic and executes crawls without serving the
HTTP or WebSocket front end. Use this to scale fetch capacity
independently of the relay itself.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Worker.Enabled = true
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return a.RunConsumers(cmd.Context())
		},
	}
}
