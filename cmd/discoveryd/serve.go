package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/discoveryd/internal/app"
	"github.com/MrSnakeDoc/discoveryd/internal/config"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry, its schedulers and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log := logger.New(cfg.LogLevel, cfg.PrettyLog)
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	},
}

// loadConfig reads the environment and applies the global flags.
func loadConfig() *config.Config {
	cfg := config.Load()
	if flags.DataDir != "" {
		// the host cache follows the data dir unless set explicitly
		if os.Getenv("DISCOVERY_HOSTCACHE_FILE") == "" {
			cfg.HostCacheFile = filepath.Join(flags.DataDir, "hosts.db")
		}
		cfg.DataDir = flags.DataDir
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	return cfg
}
