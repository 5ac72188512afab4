package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/edgecoach/internal/config"
)

var version = "dev"

var (
	noColor      bool
	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:           "edgecoach",
	Short:         "Growth coaching assistant backed by hosted LLMs",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default: platform config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(chatCmd, conversationsCmd, profileCmd, statsCmd, cacheCmd, configCmd)
}

// loadConfig honors --config when given.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
