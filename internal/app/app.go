// Package app wires the frostwatch components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	grpcapi "github.com/frostwatch/frostwatch/internal/api/grpc"
	httpapi "github.com/frostwatch/frostwatch/internal/api/http"
	"github.com/frostwatch/frostwatch/internal/archive"
	"github.com/frostwatch/frostwatch/internal/config"
	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/manifest"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/retention"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/internal/server"
	"github.com/frostwatch/frostwatch/internal/storage"
	"github.com/frostwatch/frostwatch/internal/telemetry"
	"github.com/frostwatch/frostwatch/internal/wal"
)

// activityWindow is how long a silent sensor stays in the activity table.
const activityWindow = 24 * time.Hour

// App manages the frostwatch service lifecycle.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Shared resources
	store    *telemetry.Store
	journal  *wal.WAL
	notifier *router.Notifier
	activity *observability.SensorActivity
	objects  storage.ObjectStorage
	catalog  *manifest.SQLiteCatalog
	archiver *archive.Archiver
	shutdown *server.ShutdownManager

	// Service components
	daemon       *retention.Daemon
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	opened  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg, creates the data directories, and configures logging.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logging.Init(cfg.Log)
	shutdown := server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	return &App{
		cfg:      cfg,
		logger:   logging.Component("app"),
		shutdown: shutdown,
	}, nil
}

// Open builds the store and its supporting resources without starting any
// server or background loop. Start calls it; one-shot tools call it alone.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}
	if err := a.initResources(ctx); err != nil {
		a.shutdown.Shutdown(context.Background(), "open failed")
		return err
	}
	a.opened = true
	return nil
}

// Start opens the resources, then starts the HTTP server, the gRPC server
// when enabled, and the retention daemon when enabled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.cfg.Retention.Enabled {
		a.daemon = a.newRetentionDaemon()
		if err := a.daemon.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to start retention daemon: %w", err)
		}
		a.shutdown.RegisterCloser("retention", server.CloserFunc(a.daemon.Stop))
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			cancel()
			a.shutdown.Shutdown(context.Background(), "start failed")
			return err
		}
	}

	if err := a.startHTTP(); err != nil {
		cancel()
		a.shutdown.Shutdown(context.Background(), "start failed")
		return err
	}

	a.running = true
	a.logger.Info().
		Str("http_addr", a.HTTPAddr()).
		Bool("grpc", a.cfg.GRPC.Enabled).
		Bool("journal", a.cfg.Journal.Enabled).
		Bool("archive", a.cfg.Archive.Enabled).
		Bool("retention", a.cfg.Retention.Enabled).
		Msg("frostwatch started")
	return nil
}

// initResources builds everything the servers share. Resources are
// registered for shutdown in acquisition order so they close in reverse.
func (a *App) initResources(ctx context.Context) error {
	a.notifier = router.NewNotifier(a.cfg.Stream.BufferSize)
	a.shutdown.RegisterCloser("notifier", a.notifier)
	a.activity = observability.NewSensorActivity(activityWindow)

	opts := []telemetry.Option{
		telemetry.WithLogger(logging.Component("store")),
		telemetry.WithDeviceField(a.cfg.Store.DeviceField),
		telemetry.WithQueryFileWindow(a.cfg.Store.QueryFileWindow),
		telemetry.WithPublisher(a.notifier),
		telemetry.WithPublisher(a.activity),
	}
	if a.cfg.Store.SensorIndex {
		opts = append(opts, telemetry.WithSensorIndex(telemetry.NewSensorIndex(0)))
	}

	if a.cfg.Archive.Enabled {
		if err := a.initArchive(ctx); err != nil {
			return err
		}
		opts = append(opts, telemetry.WithBeforePrune(a.archiver.Archive))
	}

	if a.cfg.Journal.Enabled {
		segSize := int64(a.cfg.Journal.MaxSegmentSizeMB) * 1024 * 1024
		journal, err := wal.NewWAL(a.cfg.Journal.Dir, segSize, logging.Component("journal"))
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = journal
		a.shutdown.RegisterCloser("journal", journal)
		opts = append(opts, telemetry.WithJournal(journal))
	}

	a.store = telemetry.New(a.cfg.Store.PartitionDir, opts...)
	if err := a.store.EnsureDataDir(); err != nil {
		return err
	}

	if a.journal != nil {
		result, err := wal.NewRecovery(a.journal, a.store, logging.Component("recovery")).Recover(ctx)
		if err != nil {
			return fmt.Errorf("journal recovery failed: %w", err)
		}
		if result.Pending > 0 {
			a.logger.Info().
				Int("pending", result.Pending).
				Int("applied", result.Applied).
				Int("partitions", result.Partitions).
				Dur("duration", result.Duration).
				Msg("journal recovered")
		}
	}
	return nil
}

// initArchive opens object storage, the archive catalog, and the archiver.
func (a *App) initArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.objects, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		a.objects, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   a.cfg.Storage.S3.Region,
			Endpoint: a.cfg.Storage.S3.Endpoint,
		})
	default:
		err = fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.catalog, err = manifest.NewCatalog(a.cfg.Archive.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to open archive catalog: %w", err)
	}
	a.shutdown.RegisterCloser("catalog", a.catalog)

	a.archiver = archive.New(a.objects, a.catalog,
		archive.WithLogger(logging.Component("archive")),
		archive.WithPublisher(a.notifier),
	)
	a.logger.Info().
		Str("storage", a.cfg.Storage.Type).
		Str("catalog", a.cfg.Archive.CatalogPath).
		Msg("partition archive enabled")
	return nil
}

func (a *App) newRetentionDaemon() *retention.Daemon {
	opts := []retention.Option{
		retention.WithLogger(logging.Component("retention")),
		retention.WithTask("sensor-activity", func(context.Context) error {
			a.activity.Prune()
			return nil
		}),
	}
	if a.archiver != nil {
		opts = append(opts, retention.WithTask("archive-reconcile", a.archiver.ReconcileTask))
	}
	return retention.NewDaemon(retention.Config{
		Days:          a.cfg.Retention.Days,
		CheckInterval: a.cfg.Retention.CheckInterval,
	}, a.store, opts...)
}

// RunRetention runs one prune cycle plus its housekeeping tasks.
func (a *App) RunRetention(ctx context.Context) (*retention.Result, error) {
	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	result := a.newRetentionDaemon().RunOnce(ctx)
	if len(result.Failed) > 0 {
		return result, fmt.Errorf("retention cycle had %d failures", len(result.Failed))
	}
	return result, nil
}

func (a *App) startHTTP() error {
	handler := httpapi.NewRouter(httpapi.RouterConfig{
		CORSOrigins:     a.cfg.HTTP.CORSOrigins,
		IngestRateLimit: a.cfg.HTTP.IngestRateLimit,
		MaxBodyBytes:    a.cfg.HTTP.MaxBodyBytes,
		StreamKeepAlive: a.cfg.Stream.KeepAlive,
	}, a.httpDeps())

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpListener = ln
	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.shutdown.ServeHTTP("http", a.httpServer, ln, a.cfg.HTTP.ShutdownTimeout); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

func (a *App) httpDeps() httpapi.Deps {
	deps := httpapi.Deps{
		Store:    a.store,
		Restorer: a.store,
		Notifier: a.notifier,
		Activity: a.activity,
		Shutdown: a.shutdown,
		Logger:   logging.Component("http"),
	}
	if a.archiver != nil {
		deps.Archiver = a.archiver
	}
	return deps
}

func (a *App) startGRPC() error {
	ln, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = ln
	a.grpcServer = grpcapi.NewGRPCServer(a.store, logging.Component("grpc"))

	grace := a.cfg.HTTP.ShutdownTimeout
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		stopped := make(chan struct{})
		go func() {
			a.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(grace):
			a.grpcServer.Stop()
		}
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()
	return nil
}

// Stop drains requests, stops the servers and the daemon, and closes every
// resource. It is safe to call after Open alone.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	wasOpen := a.opened
	a.running = false
	a.opened = false
	cancel := a.cancel
	a.mu.Unlock()

	if !wasOpen {
		return nil
	}

	a.logger.Info().Msg("initiating graceful shutdown")
	err := a.shutdown.Shutdown(ctx, "stop requested")
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn().Msg("shutdown timeout, some goroutines may not have finished")
	}

	a.logger.Info().Msg("frostwatch stopped")
	return err
}

// WaitForShutdown blocks until a signal arrives or ctx ends, then shuts down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	// Stop reports the shutdown result, so the listener's copy is dropped.
	_ = a.shutdown.ListenForSignals(ctx)
	return a.Stop(context.Background())
}

// HTTPAddr returns the HTTP listener address, or the configured address
// before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener != nil {
		return a.httpListener.Addr().String()
	}
	return a.cfg.HTTP.Addr
}

// GRPCAddr returns the gRPC listener address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener != nil {
		return a.grpcListener.Addr().String()
	}
	return ""
}

// Store returns the telemetry store. It is nil before Open.
func (a *App) Store() *telemetry.Store {
	return a.store
}
