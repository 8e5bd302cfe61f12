package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hosterbench/internal/config"
	"github.com/sells-group/hosterbench/internal/pipeline"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hosterbench",
	Short: "Hosting-provider abuse benchmark pipeline",
	Long:  "Attributes passive-DNS domains and abuse-feed hits to hosting providers by CIDR, deduplicates counts in a crash-tolerant ledger, and merges the per-provider tables into a benchmark.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml)")
}

// runStep executes one pipeline step with the shared setup/teardown all
// step subcommands need.
func runStep(name string, fn func(p *pipeline.Pipeline) error) error {
	p := pipeline.New(cfg)
	defer p.Close() //nolint:errcheck

	if err := fn(p); err != nil {
		zap.L().Error("step failed", zap.String("step", name), zap.Error(err))
		return fmt.Errorf("step %s: %w", name, err)
	}
	return p.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
