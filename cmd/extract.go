package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract (domain, IP) pairs from raw passive-DNS dumps",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("extract", func(p *pipeline.Pipeline) error {
			return p.Extract(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
