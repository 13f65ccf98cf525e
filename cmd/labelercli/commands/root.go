package commands

import (
	"github.com/spf13/cobra"
)

var (
	// configPath is the path to the YAML config.
	configPath string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "labelercli",
	Short: "Manage the LLM email labeler",
	Long: `labelercli manages the accounts and rules of labelerd and shows
what the scanner has done.

Commands that need the running daemon (status, scan) talk to its HTTP API
and fall back to the database when it is not running.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to the YAML config (default: ~/.labeler/labeler.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ledgerCmd)
}
