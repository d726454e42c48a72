package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-metrics/internal/config"
)

var cfg *config.Config

// modeAnnotation names the config validation mode a command runs under.
const modeAnnotation = "mode"

var rootCmd = &cobra.Command{
	Use:   "portfolio-metrics",
	Short: "Daily metrics ingestion for an app portfolio",
	Long:  "Pulls daily revenue, subscription, usage, search, traffic and cost metrics from third-party providers into one store and reports on the portfolio.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if mode := commandMode(cmd); mode != "" {
			return cfg.Validate(mode)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// commandMode returns the nearest mode annotation on cmd or its parents.
func commandMode(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if m, ok := c.Annotations[modeAnnotation]; ok {
			return m
		}
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
