package main

import (
	"github.com/spf13/cobra"

	"github.com/storyfetch/storyfetch/internal/api"
	"github.com/storyfetch/storyfetch/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "storyfetch",
	Short: "Story download daemon with per-site scheduling",
	Long: `storyfetch watches for story URLs, downloads them with FanFicFare,
and files the results into a calibre library.

The daemon schedules downloads so that no two run against the same
site at once, retries failures with growing jittered delays, and
notifies you when a story updates or finally gives up.`,
	Version: version.GitRelease,

	// main prints the error once; a failed download run should not dump
	// usage text on top of it.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.storyfetch/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "storyfetch home directory (default: ~/.storyfetch)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
