package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echo-memory",
	Short: "Memory importance scoring and lifecycle engine",
	Long:  "echo-memory extracts memories from journal entries and conversations, scores their importance, and manages their lifecycle from creation to deletion.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(unratedCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(rescueCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statsCmd)
}
