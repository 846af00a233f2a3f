// Package cli implements the kya command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kya",
	Short: "Trust kernel for agent capabilities",
	Long:  "Issues policy-governed capability tokens to registered agents, verifies\nsigned actions against them, and records every decision in a per-workspace\nhash-chained audit log.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
