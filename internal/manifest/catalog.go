package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
)

// Catalog records archived partition files.
type Catalog interface {
	// Register adds an archive, replacing any earlier entry for the same partition.
	Register(ctx context.Context, rec *ArchiveRecord) error

	// Get returns the archive for a partition file name.
	Get(ctx context.Context, partition string) (*ArchiveRecord, error)

	// List returns all archives, newest day first.
	List(ctx context.Context) ([]*ArchiveRecord, error)

	// Delete removes a partition's entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, partition string) error

	// Close closes the catalog database connection.
	Close() error
}

// ArchiveRecord describes one archived partition file.
type ArchiveRecord struct {
	Partition       string    `json:"partition"`
	Day             string    `json:"day"`
	ObjectPath      string    `json:"objectPath"`
	SizeBytes       int64     `json:"sizeBytes"`
	CompressedBytes int64     `json:"compressedBytes"`
	RecordCount     int64     `json:"recordCount"`
	SourceModTime   time.Time `json:"sourceModTime"`
	ArchivedAt      time.Time `json:"archivedAt"`
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writers

	upsertStmt *sql.Stmt
}

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	// A single connection keeps SQLite writes serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}

	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	upsert, err := db.Prepare(`
		INSERT INTO archives (
			partition, day, object_path,
			size_bytes, compressed_bytes, record_count,
			source_mod_time, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition) DO UPDATE SET
			day = excluded.day,
			object_path = excluded.object_path,
			size_bytes = excluded.size_bytes,
			compressed_bytes = excluded.compressed_bytes,
			record_count = excluded.record_count,
			source_mod_time = excluded.source_mod_time,
			archived_at = excluded.archived_at`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare upsert statement: %w", err)
	}
	catalog.upsertStmt = upsert

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	var version int
	if err := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("catalog schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}
	if version < CurrentSchemaVersion {
		if _, err := c.db.Exec(
			"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
			CurrentSchemaVersion, time.Now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the highest schema version recorded in the catalog.
func (c *SQLiteCatalog) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := c.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("manifest: failed to read schema version: %w", err)
	}
	return version, nil
}

// Register adds an archive record, replacing any existing row for the partition.
func (c *SQLiteCatalog) Register(ctx context.Context, rec *ArchiveRecord) error {
	if rec == nil || rec.Partition == "" {
		return ferrors.NewValidationError(ferrors.CodeInvalidParameter, "archive record requires a partition name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	archivedAt := rec.ArchivedAt
	if archivedAt.IsZero() {
		archivedAt = time.Now()
	}

	_, err := c.upsertStmt.ExecContext(ctx,
		rec.Partition, rec.Day, rec.ObjectPath,
		rec.SizeBytes, rec.CompressedBytes, rec.RecordCount,
		rec.SourceModTime.UnixMilli(), archivedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to register archive: %w", err)
	}
	return nil
}

// Get returns the archive for a partition.
func (c *SQLiteCatalog) Get(ctx context.Context, partition string) (*ArchiveRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT partition, day, object_path,
			size_bytes, compressed_bytes, record_count,
			source_mod_time, archived_at
		FROM archives
		WHERE partition = ?`, partition)

	rec, err := scanArchive(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ferrors.NewArchiveError(ferrors.CodeArchiveNotFound,
				fmt.Sprintf("no archive for partition %s", partition), nil)
		}
		return nil, fmt.Errorf("manifest: failed to get archive: %w", err)
	}
	return rec, nil
}

// List returns every archive ordered by day, newest first.
func (c *SQLiteCatalog) List(ctx context.Context) ([]*ArchiveRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT partition, day, object_path,
			size_bytes, compressed_bytes, record_count,
			source_mod_time, archived_at
		FROM archives
		ORDER BY day DESC, partition DESC`)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list archives: %w", err)
	}
	defer rows.Close()

	records := []*ArchiveRecord{}
	for rows.Next() {
		rec, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan archive: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: failed to iterate archives: %w", err)
	}
	return records, nil
}

// Delete removes the entry for a partition.
func (c *SQLiteCatalog) Delete(ctx context.Context, partition string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM archives WHERE partition = ?", partition); err != nil {
		return fmt.Errorf("manifest: failed to delete archive: %w", err)
	}
	return nil
}

// Count returns the number of archived partitions.
func (c *SQLiteCatalog) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archives").Scan(&count); err != nil {
		return 0, fmt.Errorf("manifest: failed to count archives: %w", err)
	}
	return count, nil
}

// Close closes the catalog database connection.
func (c *SQLiteCatalog) Close() error {
	if c.upsertStmt != nil {
		c.upsertStmt.Close()
	}
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArchive(row rowScanner) (*ArchiveRecord, error) {
	var rec ArchiveRecord
	var modMillis, archivedMillis int64

	err := row.Scan(
		&rec.Partition, &rec.Day, &rec.ObjectPath,
		&rec.SizeBytes, &rec.CompressedBytes, &rec.RecordCount,
		&modMillis, &archivedMillis,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceModTime = time.UnixMilli(modMillis).UTC()
	rec.ArchivedAt = time.UnixMilli(archivedMillis).UTC()
	return &rec, nil
}
