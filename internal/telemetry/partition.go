package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// errCorrupt marks partition content that is not a JSON array of objects or
// a single object.
var errCorrupt = errors.New("corrupt partition content")

type partitionFile struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// listPartitions returns every *.json file in dir. Entries that vanish while
// listing are ignored.
func (s *Store) listPartitions() ([]partitionFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, ferrors.NewPartitionError(ferrors.CodeDirectoryUnavailable,
			fmt.Sprintf("cannot list data directory %s", s.dir), err)
	}

	files := make([]partitionFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !types.IsPartitionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, partitionFile{
			name:    e.Name(),
			path:    filepath.Join(s.dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// sortByModTimeDesc orders files newest first, name descending on ties.
func sortByModTimeDesc(files []partitionFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})
}

// readPartition decodes a partition file. A JSON array contributes its object
// elements; a single JSON object contributes itself.
func readPartition(path string) ([]types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodePartition(data)
}

func decodePartition(data []byte) ([]types.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", errCorrupt)
	}

	switch doc := v.(type) {
	case []any:
		records := make([]types.Record, 0, len(doc))
		for _, item := range doc {
			if obj, ok := item.(map[string]any); ok {
				records = append(records, types.Record(obj))
			}
		}
		return records, nil
	case map[string]any:
		return []types.Record{types.Record(doc)}, nil
	default:
		return nil, fmt.Errorf("%w: top-level %T", errCorrupt, v)
	}
}

// encodePartition renders records as a two-space indented JSON array without
// HTML escaping or a trailing newline.
func encodePartition(records []types.Record) ([]byte, error) {
	if records == nil {
		records = []types.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// writePartition replaces path atomically via a temp file in the same
// directory.
func writePartition(path string, records []types.Record) error {
	data, err := encodePartition(records)
	if err != nil {
		return fmt.Errorf("failed to encode partition: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace partition: %w", err)
	}
	return nil
}

// loadForWrite reads the partition about to be rewritten. A missing file is
// empty. Unreadable or corrupt content is logged and treated as empty; a
// corrupt file is first moved aside so its bytes are not lost.
// Must be called with s.mu held.
func (s *Store) loadForWrite(path string) []types.Record {
	records, err := readPartition(path)
	if err == nil {
		return records
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	observability.CorruptPartitions.Inc()
	log := s.logger.Warn().Err(err).Str("file", filepath.Base(path))
	if errors.Is(err, errCorrupt) {
		aside := path + ".corrupt-" + strconv.FormatInt(s.now().UnixMilli(), 10)
		if rerr := os.Rename(path, aside); rerr == nil {
			log = log.Str("moved_to", filepath.Base(aside))
		}
	}
	log.Msg("existing partition unreadable, starting empty")
	return nil
}
