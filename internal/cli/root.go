// Package cli implements the rebootguard command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/rebootguard/internal/config"
	"github.com/HerbHall/rebootguard/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rebootguard",
	Short: "Turn user-requested reboots into a framework restart",
	Long: "Guards the reboot call chains of a host process. Requests carrying the\n" +
		"user-requested reason are suppressed and replaced by a privileged restart\n" +
		"action; every other reboot, shutdown and recovery request passes through.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to rebootguard.yaml (default: search ., /data/adb/rebootguard, /etc/rebootguard)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session holds what most commands need: configuration and a logger.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	cleanup func()
}

func loadSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return &session{cfg: cfg, logger: logger, cleanup: cleanup}, nil
}
