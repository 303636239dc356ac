// Package archive copies partition files to object storage before they are
// pruned and restores them on request.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/rs/zerolog"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/manifest"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/internal/storage"
	"github.com/frostwatch/frostwatch/internal/telemetry"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// ObjectPrefix is the object storage prefix archives are written under.
const ObjectPrefix = "archive"

// Restorer writes archived partition content back into a store.
type Restorer interface {
	Restore(ctx context.Context, name string, data []byte) (int, error)
}

// Archiver compresses partition files with snappy, uploads them, and
// records each upload in the catalog.
type Archiver struct {
	storage   storage.ObjectStorage
	catalog   manifest.Catalog
	publisher telemetry.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the archiver logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// WithPublisher sends PartitionArchived notifications to p.
func WithPublisher(p telemetry.Publisher) Option {
	return func(a *Archiver) { a.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New creates an archiver.
func New(store storage.ObjectStorage, catalog manifest.Catalog, opts ...Option) *Archiver {
	a := &Archiver{
		storage: store,
		catalog: catalog,
		logger:  logging.Component("archive"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObjectPath returns archive/<YYYY>/<MM>/<name>.sz for a partition of the given day.
func ObjectPath(name string, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s.sz", ObjectPrefix, day.Year(), int(day.Month()), name)
}

// Archive uploads the partition file at path. Its signature matches
// telemetry.BeforePruneFunc; a returned error keeps the file on disk.
func (a *Archiver) Archive(ctx context.Context, path string, info fs.FileInfo) (err error) {
	defer func() { observability.RecordArchive(err) }()

	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return ferrors.NewArchiveError(ferrors.CodeUploadFailed,
			fmt.Sprintf("cannot read partition %s", name), err)
	}

	// Files that do not decode are archived as-is with no record count.
	records, cerr := telemetry.CountRecords(data)
	if cerr != nil {
		a.logger.Warn().Err(cerr).Str("file", name).Msg("archiving unreadable partition")
	}

	day, perr := types.ParsePartitionName(name)
	if perr != nil {
		day = info.ModTime().UTC()
	}

	compressed := snappy.Encode(nil, data)
	if n, derr := snappy.DecodedLen(compressed); derr != nil || n != len(data) {
		return ferrors.NewArchiveError(ferrors.CodeUploadFailed,
			fmt.Sprintf("compressed copy of %s failed verification", name), derr)
	}

	objectPath := ObjectPath(name, day)
	if err := a.storage.Put(ctx, objectPath, compressed); err != nil {
		return ferrors.NewArchiveError(ferrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s", name), err)
	}

	rec := &manifest.ArchiveRecord{
		Partition:       name,
		Day:             day.Format(types.PartitionDateLayout),
		ObjectPath:      objectPath,
		SizeBytes:       int64(len(data)),
		CompressedBytes: int64(len(compressed)),
		RecordCount:     int64(records),
		SourceModTime:   info.ModTime(),
		ArchivedAt:      a.now(),
	}
	if err := a.catalog.Register(ctx, rec); err != nil {
		return ferrors.NewArchiveError(ferrors.CodeUploadFailed,
			fmt.Sprintf("failed to register archive of %s", name), err)
	}

	a.logger.Info().
		Str("file", name).
		Str("object", objectPath).
		Int64("bytes", rec.SizeBytes).
		Int64("compressed_bytes", rec.CompressedBytes).
		Msg("partition archived")

	if a.publisher != nil {
		a.publisher.Publish(router.Notification{
			Type:      router.PartitionArchived,
			Partition: name,
			Timestamp: a.now().UnixMilli(),
		})
	}
	return nil
}

// List returns all catalogued archives, newest day first.
func (a *Archiver) List(ctx context.Context) ([]*manifest.ArchiveRecord, error) {
	return a.catalog.List(ctx)
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	Archive *manifest.ArchiveRecord `json:"archive"`
	Records int                     `json:"records"`
}

// Restore downloads the archive of partition, decompresses it, and hands it
// to dst. dst refuses to overwrite an existing partition file.
func (a *Archiver) Restore(ctx context.Context, dst Restorer, partition string) (*RestoreResult, error) {
	rec, err := a.catalog.Get(ctx, partition)
	if err != nil {
		return nil, err
	}

	compressed, err := a.storage.Get(ctx, rec.ObjectPath)
	if err != nil {
		return nil, ferrors.NewArchiveError(ferrors.CodeDownloadFailed,
			fmt.Sprintf("failed to download %s", rec.ObjectPath), err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, ferrors.NewArchiveError(ferrors.CodeDownloadFailed,
			fmt.Sprintf("archive %s is not valid snappy data", rec.ObjectPath), err)
	}

	n, err := dst.Restore(ctx, partition, data)
	if err != nil {
		if ferrors.GetCode(err) == ferrors.CodeAlreadyExists {
			return nil, ferrors.NewArchiveError(ferrors.CodeAlreadyExists,
				fmt.Sprintf("partition %s is already present", partition), err)
		}
		return nil, err
	}

	a.logger.Info().Str("file", partition).Int("records", n).Msg("archive restored")
	return &RestoreResult{Archive: rec, Records: n}, nil
}
