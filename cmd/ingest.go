package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest abuse feeds and export deduplicated hit counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("ingest", func(p *pipeline.Pipeline) error {
			return p.Ingest(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
