package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "paperbroker",
	Short: "A paper-trading execution engine with realistic fill simulation",
	Long: `Paperbroker converts trading signals into simulated orders and fills them
against a synthetic market with realistic slippage and partial-fill behavior.

It provides:
  - A simulated exchange with market, limit, stop and stop-limit orders
  - Per-order lifecycle monitoring with retries and exponential backoff
  - Pre-trade risk checks and risk-based position sizing
  - Fill, execution and equity journaling to CSV or SQLite`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
