// Package cli wires the cobra commands to the pipeline runtime.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orcsync",
		Short: "orcsync - UiPath Orchestrator to warehouse ETL",
		Long: `orcsync incrementally extracts queue items and jobs from a UiPath
Orchestrator tenant and upserts them into a relational warehouse for
SLA and queue-volume reporting. Runs are checkpointed per source and
safe to re-trigger.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewInitDBCmd())
	rootCmd.AddCommand(NewCheckpointCmd())

	return rootCmd
}
