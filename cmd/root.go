package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "surveyqc",
	Short: "Survey response quality-control pipeline",
	Long:  "Ingests a survey export, enriches it with region and engagement data, applies quality flags and exclusions, scores instruments, tabulates quotas, and writes the snapshot, workbook, and quota spreadsheet.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
