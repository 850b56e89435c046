package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/internal/config"
	"github.com/terrahash/landregistry/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// env carries what every subcommand needs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var configPath string
	e := &env{}

	cmd := &cobra.Command{
		Use:          "terrahash",
		Short:        "TerraHash land registry API",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.NewLogger(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			e.cfg, e.logger = cfg, log
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(e), newMigrateCmd(e), newWhitelistCmd(e))
	return cmd
}
