package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the telemetry and scrape HTTP server",
		Long: `Starts the HTTP server exposing /v1/scrape, /v1/scrape/batch, and
the read-only telemetry routes (/v1/circuits, /v1/strategy-stats, /v1/cost,
/v1/logs, /v1/evidence) plus /healthz and /metrics. Runs until SIGINT or
SIGTERM, then drains in-flight requests and shuts down gracefully.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Serve(cmd.Context()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
