package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Join counts, capacity, and abuse tables into the benchmark table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("merge", func(p *pipeline.Pipeline) error {
			return p.Merge(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
