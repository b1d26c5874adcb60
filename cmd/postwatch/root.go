package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postwatch/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "postwatch",
	Short:         "Announce new Instagram posts in a Telegram chat",
	Long:          "postwatch polls an Instagram profile on a schedule and posts the link of each new post to a Telegram channel.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAction,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "postwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "config file (yaml or json); missing means environment only")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the config file overlaid with the process environment.
func loadConfig() (*config.Manager, *config.Config, error) {
	m := config.NewManager(configPath, nil)
	cfg, err := m.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return m, cfg, nil
}

// parseConfig reads the config with defaults but skips validation, for
// offline commands that need neither a token nor an account.
func parseConfig() (*config.Config, error) {
	cfg, err := config.NewManager(configPath, nil).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
