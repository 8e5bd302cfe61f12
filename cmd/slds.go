package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var sldsCmd = &cobra.Command{
	Use:   "slds",
	Short: "Export the per-provider unique-domain counts table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep("slds", func(p *pipeline.Pipeline) error {
			return p.SLDs(cmd.Context())
		})
	},
}

func init() {
	rootCmd.AddCommand(sldsCmd)
}
