package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hawkcrawl/scout/internal/orchestrator"
)

var (
	scrapeHint          string
	scrapeForceStrategy string
	scrapeTimeoutSecs   int
	scrapeBypassCache   bool
)

// newScrapeCmd creates and configures the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Runs a single scrape through the escalation runner",
		Long: `Fetches one URL through the full escalation ladder (light, stealth,
ultra), printing the resulting ScrapeResult as JSON to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: runScrapeCommand,
	}
	cmd.Flags().StringVar(&scrapeHint, "hint", "", "opaque hint carried on the request; the orchestrator does not interpret it (use --force-strategy to pick a strategy)")
	cmd.Flags().StringVar(&scrapeForceStrategy, "force-strategy", "", "skip selection and use this strategy directly (light, stealth, ultra)")
	cmd.Flags().IntVar(&scrapeTimeoutSecs, "timeout", 0, "per-call timeout in seconds (0 uses the configured default)")
	cmd.Flags().BoolVar(&scrapeBypassCache, "bypass-cache", false, "skip the result cache for this call")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	req := orchestrator.Request{
		URL:            args[0],
		Hint:           scrapeHint,
		ForceStrategy:  orchestrator.Strategy(scrapeForceStrategy),
		TimeoutSeconds: scrapeTimeoutSecs,
		BypassCache:    scrapeBypassCache,
	}

	start := time.Now()
	result, err := appInstance.Orchestrator().Scrape(cmd.Context(), req)
	if err != nil && result.Status == "" {
		return fmt.Errorf("scrape: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return fmt.Errorf("encode result: %w", encErr)
	}

	if result.Status != "success" {
		return fmt.Errorf("scrape of %s did not succeed after %s (kind=%s)", args[0], time.Since(start), result.FailureKind)
	}
	return nil
}
