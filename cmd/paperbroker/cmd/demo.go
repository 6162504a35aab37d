package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/paperbroker/config"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a canned paper-trading session",
	Long: `Run a session with built-in defaults: a long entry on AAPL with a
scripted price ramp, partial fills enabled and a CSV journal.

Shows the full workflow:
  1. Sizing the position from account risk
  2. Submitting a market order through the lifecycle manager
  3. Partial fills and remainder resubmission with backoff
  4. Closing the position and printing the realized P/L`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Journal.Type = "none"
	cfg.Exchange.PartialFillProb = 1.0
	cfg.Retry.BaseDelay = "100ms"
	cfg.Retry.MaxDelay = "500ms"

	fmt.Println("Demo: partial fills with remainder resubmission")
	fmt.Println()
	return runSession(cfg)
}
