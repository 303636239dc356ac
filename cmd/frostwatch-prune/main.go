// Package main implements frostwatch-prune, which runs one retention cycle
// against a data directory and exits. Suitable for cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/frostwatch/frostwatch/internal/app"
	"github.com/frostwatch/frostwatch/internal/config"
	"github.com/frostwatch/frostwatch/internal/logging"
)

func main() {
	var (
		configFile string
		dataDir    string
		days       int
		archive    bool
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.IntVar(&days, "days", -1, "Retention period in days (default from config)")
	flag.BoolVar(&archive, "archive", false, "Archive partitions to object storage before deleting them")
	flag.Parse()

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "frostwatch-prune: %v\n", err)
			os.Exit(2)
		}
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "frostwatch-prune: %v\n", err)
		os.Exit(2)
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if days >= 0 {
		cfg.Retention.Days = days
	}
	if archive {
		cfg.Archive.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	a, err := app.New(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	defer logging.Close()
	defer a.Stop(context.Background())

	log := logging.Component("prune")
	result, err := a.RunRetention(ctx)
	if err != nil {
		if result != nil {
			log.Error().Err(err).Strs("failed", result.Failed).Int("deleted", result.Deleted).Msg("retention cycle failed")
		} else {
			log.Error().Err(err).Msg("retention cycle failed")
		}
		return 1
	}

	log.Info().
		Int("deleted", result.Deleted).
		Int("retention_days", cfg.Retention.Days).
		Dur("duration", result.Duration).
		Msg("retention cycle complete")
	return 0
}
