// Package telemetry implements the ESP32 telemetry store: device records
// appended to one JSON array file per UTC day, with bounded recency queries,
// aggregate statistics, and age-based pruning.
//
// Append, Prune, and journal replay are serialized by a single store mutex.
// Query and Stats take no lock; partition files are replaced by rename, so a
// reader sees either the previous or the next version of a file.
package telemetry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/internal/wal"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// DefaultQueryFileWindow is how many most-recently-modified partition files
// a query reads.
const DefaultQueryFileWindow = 7

// Journal is the ingest journal the store writes ahead of partition rewrites.
type Journal interface {
	Append(entry *wal.Entry) (uint64, error)
	Checkpoint(lsn uint64) error
}

// Publisher receives store notifications. Implementations must not block.
type Publisher interface {
	Publish(router.Notification)
}

// BeforePruneFunc runs before a partition file is deleted. Returning an error
// keeps the file.
type BeforePruneFunc func(ctx context.Context, path string, info fs.FileInfo) error

// Store owns a directory of partition files.
type Store struct {
	dir         string
	deviceField string
	fileWindow  int
	now         func() time.Time
	logger      zerolog.Logger
	journal     Journal
	index       *SensorIndex
	publishers  []Publisher
	beforePrune BeforePruneFunc

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDeviceField sets the record field used as the device identifier.
func WithDeviceField(field string) Option {
	return func(s *Store) {
		if field != "" {
			s.deviceField = field
		}
	}
}

// WithQueryFileWindow sets how many recent partition files Query reads.
func WithQueryFileWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fileWindow = n
		}
	}
}

// WithJournal enables write-ahead journaling of appended records.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithSensorIndex enables partition skipping for sensor-filtered queries.
func WithSensorIndex(idx *SensorIndex) Option {
	return func(s *Store) { s.index = idx }
}

// WithPublisher adds a notification publisher. May be given more than once.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithBeforePrune installs a hook run before each partition deletion.
func WithBeforePrune(fn BeforePruneFunc) Option {
	return func(s *Store) { s.beforePrune = fn }
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:         dir,
		deviceField: types.FieldDeviceID,
		fileWindow:  DefaultQueryFileWindow,
		now:         time.Now,
		logger:      logging.Component("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the partition directory.
func (s *Store) Dir() string {
	return s.dir
}

// DeviceField returns the record field used as the device identifier.
func (s *Store) DeviceField() string {
	return s.deviceField
}

// EnsureDataDir creates the partition directory and its parents if missing.
func (s *Store) EnsureDataDir() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return ferrors.NewPartitionError(ferrors.CodeDirectoryUnavailable,
			fmt.Sprintf("cannot create data directory %s", s.dir), err)
	}
	return nil
}

func (s *Store) publish(n router.Notification) {
	for _, p := range s.publishers {
		p.Publish(n)
	}
}

func (s *Store) sensorOf(rec types.Record) string {
	id, _ := rec.StringField(s.deviceField)
	return id
}
