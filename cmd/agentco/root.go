package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentco",
	Short: "AI employee ticket orchestration",
	Long: `Agentco coordinates AI workers over a three-level ticket hierarchy.

An intake instruction becomes a parent ticket, decomposed into child
tickets per worker role and grandchild tickets as atomic, reviewable
units of work. Completion is gated on review approval, merges flow
through per-ticket task branches, and a finished hierarchy becomes a
pull request.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(ticketCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
