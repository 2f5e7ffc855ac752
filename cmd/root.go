package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tankindex",
	Short: "Irrigation tank rejuvenation priority index",
	Long: "Distributes population over agricultural land, calibrates per-district buffers against the " +
		"household survey and composes the tank supply, demand and utility index at DSD level.",
	SilenceUsage: true,
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
