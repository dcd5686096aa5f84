package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "live-session-service",
	Short: "Live session service: classroom sessions, presence, signaling, chat and captions",
	Long:  `HTTP + WebSocket API. Commands: api, migrate, seed, command.`,
	RunE:  runAPI, // default: run API (same as "live-session-service api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
