// Package manifest provides the archive catalog, a SQLite record of every
// partition file copied to object storage before it was pruned.
package manifest

// CurrentSchemaVersion is the catalog layout written by this build.
const CurrentSchemaVersion = 1

// CreateArchivesTableSQL creates the archived partitions table.
// partition is the partition file name (esp32-YYYY-MM-DD.json) and is unique:
// archiving the same day twice replaces the earlier row.
const CreateArchivesTableSQL = `
CREATE TABLE IF NOT EXISTS archives (
    partition TEXT PRIMARY KEY,
    day TEXT NOT NULL,
    object_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    compressed_bytes INTEGER NOT NULL,
    record_count INTEGER NOT NULL,
    source_mod_time INTEGER NOT NULL,
    archived_at INTEGER NOT NULL
)`

// CreateArchivesIndexesSQL creates indexes for listing archives.
var CreateArchivesIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_archives_day ON archives(day)`,
	`CREATE INDEX IF NOT EXISTS idx_archives_archived_at ON archives(archived_at)`,
}

// CreateSchemaVersionsTableSQL tracks which catalog layout the file holds.
const CreateSchemaVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateArchivesTableSQL,
		CreateSchemaVersionsTableSQL,
	}
	return append(statements, CreateArchivesIndexesSQL...)
}
