package cli

import (
	"github.com/spf13/cobra"
)

type RunOptions struct {
	Source   string
	From     string
	To       string
	PageSize int
	DryRun   bool
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline for one or all sources",
		RunE: func(c *cobra.Command, args []string) error {
			return runPipelines(c.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "all", "Source to extract: queue-items, jobs or all")
	cmd.Flags().StringVar(&opts.From, "from", "", "Override window start (RFC3339); replays never advance the checkpoint")
	cmd.Flags().StringVar(&opts.To, "to", "", "Override window end (RFC3339)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "Override configured page size")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Fetch and transform without loading")

	return cmd
}
