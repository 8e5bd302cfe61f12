package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hosterbench/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all pipeline steps in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := pipeline.New(cfg)
		defer p.Close() //nolint:errcheck

		if err := p.Run(cmd.Context()); err != nil {
			return err
		}
		return p.Close()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
