package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/labeler/internal/build"
	"github.com/roasbeef/labeler/internal/config"
	"github.com/spf13/cobra"
)

// configPath is the --config flag. Empty means the default location, which
// may be absent.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "labelerd",
	Short: "Label email with a local LLM",
	Long: `labelerd polls every active mail account on its own interval,
asks a local Ollama model whether each new message satisfies the
operator's rules, and applies the matching labels and actions.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the configuration after defaults and environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		return cfg.Dump(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("labelerd version %s", build.Version())
		if build.Commit != "" {
			fmt.Printf(" commit=%s", build.Commit)
		}
		if v := build.GoVersion(); v != "" {
			fmt.Printf(" go=%s", v)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to the YAML config (default: ~/.labeler/labeler.yaml)",
	)

	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
