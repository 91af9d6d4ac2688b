// Package app provides the command-line interface of the satsync updater.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesonet-io/satsync/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "satsync",
	DisableAutoGenTag: true,
	Short:             "Satellite observation archive updater",
	Long: `satsync keeps a graph-backed satellite observation archive current.
It detects which products are missing recent data, submits remote extraction
tasks for the gaps, polls them to completion and merges the cleaned results
into the archive.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command of the updater.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(initSchemaCmd)
	rootCmd.AddCommand(bulkLoadCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Println(string(output))
		} else {
			slog.Info("satsync version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
		}

		if check, _ := cmd.Flags().GetString("check"); check != "" {
			if versions.IsNewerVersion(check, info.Version) {
				slog.Info("A newer release is available", "current", info.Version, "available", check)
			} else {
				slog.Info("Running build is up to date", "current", info.Version, "checked", check)
			}
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
	versionCmd.Flags().String("check", "", "Compare the running build against a release version")
}
