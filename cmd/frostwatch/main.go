// Package main implements the frostwatch service binary: the ESP32
// telemetry HTTP API plus the optional gRPC API and retention daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/frostwatch/frostwatch/internal/app"
	"github.com/frostwatch/frostwatch/internal/config"
	"github.com/frostwatch/frostwatch/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configFile    string
	envFile       string
	dataDir       string
	httpAddr      string
	grpcAddr      string
	grpcEnabled   bool
	retentionDays int
	logLevel      string
	showVersion   bool
}

func main() {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&f.envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")
	flag.StringVar(&f.dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC listen address (enables gRPC)")
	flag.BoolVar(&f.grpcEnabled, "grpc", false, "Enable the gRPC API")
	flag.IntVar(&f.retentionDays, "retention-days", -1, "Delete partitions older than this many days")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "frostwatch - ESP32 telemetry store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: frostwatch [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FROSTWATCH_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  FROSTWATCH_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  FROSTWATCH_RETENTION_DAYS   Partition retention in days\n")
		fmt.Fprintf(os.Stderr, "  FROSTWATCH_ARCHIVE_ENABLED  Archive partitions before pruning\n")
		fmt.Fprintf(os.Stderr, "  FROSTWATCH_STORAGE_TYPE     Archive storage type (local, s3)\n")
	}
	flag.Parse()

	if f.showVersion {
		fmt.Printf("frostwatch version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	application, err := app.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to start application")
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
		logging.Close()
		os.Exit(1)
	}
	logging.Close()
}

// loadConfig applies defaults, then the config file, then .env and the
// environment, then flags.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configFile); err != nil {
			return nil, err
		}
	}

	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)

	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.GRPC.Addr = f.grpcAddr
		cfg.GRPC.Enabled = true
	}
	if f.grpcEnabled {
		cfg.GRPC.Enabled = true
	}
	if f.retentionDays >= 0 {
		cfg.Retention.Days = f.retentionDays
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}
