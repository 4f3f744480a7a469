package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/config"
	"github.com/mjcarver/opsgate/internal/logging"
)

const version = "0.3.0"

var (
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "opsgate",
	Short:   "Policy gate and audit memory for automated operators",
	Version: version,
	Long: `opsgate sits between an automated planner and your shell. Every
proposed command is classified against tool-scoped rules, gated behind
human approval when it matters, executed in its own process group, and
recorded in a hash-chained, branchable session timeline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			cfg, err = config.LoadFrom(cfgPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		logger, err = logging.New(debug || cfg.Debug)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/opsgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
