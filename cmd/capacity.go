package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Compute and export per-provider address capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("capacity", func(p *pipeline.Pipeline) error {
			return p.Capacity(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(capacityCmd)
}
