package main

import (
	"fmt"

	"github.com/kiwibes/kiwibes/internal/config"
	"github.com/spf13/cobra"
)

var flags config.Config

var rootCmd = &cobra.Command{
	Use:     "server HOME",
	Short:   "kiwibes job automation server",
	Long:    `kiwibes runs a catalog of cron-scheduled jobs behind an authenticated HTTPS REST interface.`,
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags.Home = args[0]
		return serve(flags)
	},
}

func init() {
	rootCmd.Flags().IntVarP(&flags.LogLevel, "log-level", "l", config.DefaultLogLevel, "log level: 0=error, 1=info, 2=debug")
	rootCmd.Flags().Int64VarP(&flags.LogSizeMB, "log-size", "s", config.DefaultLogSizeMB, "rolling log cap in MB (<=100)")
	rootCmd.Flags().IntVarP(&flags.Port, "port", "p", config.DefaultPort, "HTTPS listen port")
	rootCmd.Flags().Int64VarP(&flags.DataStoreMB, "datastore-size", "d", config.DefaultDataStoreMB, "data-store byte budget in MB (<=100)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("kiwibes %s (%s, %s)\n", Version, GitCommit, BuildTime))
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = false
}
