// Package retention runs age-based partition pruning on a fixed interval.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Config holds configuration for the retention daemon.
type Config struct {
	// Days is the retention period passed to Prune (default: 30).
	Days int

	// CheckInterval is how often the daemon prunes (default: 1h).
	CheckInterval time.Duration
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() Config {
	return Config{
		Days:          types.DefaultRetentionDays,
		CheckInterval: time.Hour,
	}
}

// Pruner deletes partition files older than a retention period.
type Pruner interface {
	Prune(ctx context.Context, retentionDays int) (int, error)
}

// Task is extra housekeeping run after each prune.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is the outcome of one retention cycle.
type Result struct {
	Deleted  int
	Failed   []string
	Duration time.Duration
}

// Daemon manages background retention runs.
type Daemon struct {
	config Config
	pruner Pruner
	tasks  []Task
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithTask adds a housekeeping task run after every prune.
func WithTask(name string, run func(ctx context.Context) error) Option {
	return func(d *Daemon) {
		d.tasks = append(d.tasks, Task{Name: name, Run: run})
	}
}

// NewDaemon creates a new retention daemon.
func NewDaemon(config Config, pruner Pruner, opts ...Option) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	d := &Daemon{
		config: config,
		pruner: pruner,
		logger: logging.Component("retention"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins the retention loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("retention: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop stops the loop and waits for an in-progress cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// Running reports whether the loop is active.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.RunOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce prunes once and then runs every housekeeping task. Task failures
// are logged and collected; they do not stop later tasks.
func (d *Daemon) RunOnce(ctx context.Context) *Result {
	start := time.Now()
	result := &Result{}
	if ctx.Err() != nil {
		return result
	}

	deleted, err := d.pruner.Prune(ctx, d.config.Days)
	result.Deleted = deleted
	if err != nil {
		d.logger.Error().Err(err).Int("retention_days", d.config.Days).Msg("prune failed")
		result.Failed = append(result.Failed, "prune")
	} else if deleted > 0 {
		d.logger.Info().Int("deleted", deleted).Int("retention_days", d.config.Days).Msg("retention cycle pruned partitions")
	}

	for _, task := range d.tasks {
		if ctx.Err() != nil {
			break
		}
		if err := task.Run(ctx); err != nil {
			d.logger.Warn().Err(err).Str("task", task.Name).Msg("retention task failed")
			result.Failed = append(result.Failed, task.Name)
		}
	}

	result.Duration = time.Since(start)
	return result
}
