package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "botsched",
	Short: "Randomized action scheduler for game bot agents",
	Long: `botsched arms per-agent timers for daily, target-driven and recurring
bot actions, persisting every fire instant in Redis so any number of
instances can run side by side.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(selectionCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}
