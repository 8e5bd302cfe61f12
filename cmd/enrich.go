package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Attribute extracted records to providers and register unique domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("enrich", func(p *pipeline.Pipeline) error {
			return p.Enrich(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
