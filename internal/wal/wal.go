// Package wal provides the ingest journal: an append-only, checksummed log of
// accepted telemetry records that survives a crash between acknowledgment and
// the partition file rewrite.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	segmentPrefix  = "wal_"
	segmentFormat  = "wal_%016x.log"
	checkpointFile = "checkpoint"

	// maxEntrySize bounds a single frame so a torn length header cannot
	// trigger a huge allocation.
	maxEntrySize = 16 << 20
)

// WAL is a segmented append-only journal.
type WAL struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	checkpoint uint64
	// closed segment ID -> highest LSN it holds
	segmentLast map[uint64]uint64
	logger      zerolog.Logger
	mu          sync.Mutex
}

// Entry is one journaled record.
type Entry struct {
	LSN       uint64          `json:"lsn"`
	Partition string          `json:"partition"`
	Record    json.RawMessage `json:"record"`
	Timestamp int64           `json:"timestamp"`
}

type checkpointState struct {
	LSN       uint64 `json:"lsn"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewWAL opens the journal in dir, creating the directory if it doesn't exist,
// and resumes after the highest LSN found on disk.
func NewWAL(dir string, maxSegSize int64, logger zerolog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = 64 << 20
	}

	w := &WAL{
		dir:         dir,
		maxSegSize:  maxSegSize,
		segmentLast: make(map[uint64]uint64),
		logger:      logger,
	}

	if err := w.loadCheckpoint(); err != nil {
		return nil, err
	}
	if err := w.scanSegments(); err != nil {
		return nil, err
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}

	return w, nil
}

// Dir returns the journal directory.
func (w *WAL) Dir() string {
	return w.dir
}

func (w *WAL) loadCheckpoint() error {
	data, err := os.ReadFile(filepath.Join(w.dir, checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var st checkpointState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	w.checkpoint = st.LSN
	return nil
}

// scanSegments finds the newest segment and the last LSN of every segment.
func (w *WAL) scanSegments() error {
	ids, err := w.segmentIDs()
	if err != nil {
		return err
	}

	w.currentLSN = w.checkpoint
	for i, id := range ids {
		last, err := lastLSN(w.segmentPath(id))
		if err != nil {
			return fmt.Errorf("failed to scan segment %d: %w", id, err)
		}
		if last > w.currentLSN {
			w.currentLSN = last
		}
		if i < len(ids)-1 {
			w.segmentLast[id] = last
		}
	}
	if len(ids) > 0 {
		w.segmentID = ids[len(ids)-1]
	}
	return nil
}

func (w *WAL) segmentIDs() ([]uint64, error) {
	files, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var ids []uint64
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if len(name) != 24 || name[:4] != segmentPrefix {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(name, segmentFormat, &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (w *WAL) segmentPath(id uint64) string {
	return filepath.Join(w.dir, fmt.Sprintf(segmentFormat, id))
}

// openSegment opens the current segment file for appending.
func (w *WAL) openSegment() error {
	file, err := os.OpenFile(w.segmentPath(w.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	w.segment = file
	w.offset = offset
	return nil
}

// Append assigns the next LSN to entry, writes it, and fsyncs.
func (w *WAL) Append(entry *Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return 0, fmt.Errorf("wal is closed")
	}

	entry.LSN = w.currentLSN + 1
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entry: %w", err)
	}

	if err := w.writeFrame(payload); err != nil {
		return 0, err
	}
	w.currentLSN = entry.LSN

	if w.offset >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	return entry.LSN, nil
}

// writeFrame writes [length:4 LE][crc32:4 LE][payload] and fsyncs.
func (w *WAL) writeFrame(payload []byte) error {
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[8:], payload)

	if _, err := w.segment.Write(frame); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	w.offset += int64(len(frame))
	return nil
}

// rotate closes the current segment and opens the next one.
func (w *WAL) rotate() error {
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	w.segmentLast[w.segmentID] = w.currentLSN
	w.segmentID++
	return w.openSegment()
}

// RotateSegment forces a segment rotation.
func (w *WAL) RotateSegment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.segment == nil {
		return fmt.Errorf("wal is closed")
	}
	return w.rotate()
}

// Checkpoint records that every entry up to lsn has reached its partition
// file, then removes closed segments that hold nothing newer.
func (w *WAL) Checkpoint(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if lsn <= w.checkpoint {
		w.removeCheckpointedSegments()
		return nil
	}
	if lsn > w.currentLSN {
		return fmt.Errorf("checkpoint %d beyond last assigned lsn %d", lsn, w.currentLSN)
	}

	data, err := json.Marshal(checkpointState{LSN: lsn, UpdatedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	path := filepath.Join(w.dir, checkpointFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	w.checkpoint = lsn

	w.removeCheckpointedSegments()
	return nil
}

// Truncate seals the current segment when everything in it is checkpointed
// and removes every closed segment the checkpoint covers.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return fmt.Errorf("wal is closed")
	}
	if w.offset > 0 && w.currentLSN <= w.checkpoint {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	w.removeCheckpointedSegments()
	return nil
}

// removeCheckpointedSegments must be called with mu held.
func (w *WAL) removeCheckpointedSegments() {
	for id, last := range w.segmentLast {
		if last > w.checkpoint {
			continue
		}
		if err := os.Remove(w.segmentPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn().Err(err).Uint64("segment", id).Msg("failed to remove checkpointed segment")
			continue
		}
		delete(w.segmentLast, id)
	}
}

// CurrentLSN returns the highest LSN assigned.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// CheckpointLSN returns the highest LSN known to be applied.
func (w *WAL) CheckpointLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkpoint
}

// SegmentPaths lists segment files in LSN order.
func (w *WAL) SegmentPaths() ([]string, error) {
	ids, err := w.segmentIDs()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = w.segmentPath(id)
	}
	return paths, nil
}

// Close fsyncs and closes the current segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment != nil {
		if err := w.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		w.segment = nil
	}

	return nil
}

// ReadEntries reads all intact entries from a segment file. Reading stops at
// a truncated frame; frames failing their checksum are skipped.
func ReadEntries(segmentPath string) ([]*Entry, error) {
	var entries []*Entry
	err := scanSegment(segmentPath, func(e *Entry) {
		entries = append(entries, e)
	})
	return entries, err
}

func lastLSN(segmentPath string) (uint64, error) {
	var last uint64
	err := scanSegment(segmentPath, func(e *Entry) {
		if e.LSN > last {
			last = e.LSN
		}
	})
	return last, err
}

func scanSegment(segmentPath string, fn func(*Entry)) error {
	file, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(file, header); err != nil {
			// io.EOF is a clean end; io.ErrUnexpectedEOF is a torn header
			return nil
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])
		if length > maxEntrySize {
			return nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Truncated write - stop reading
			return nil
		}

		if crc32.ChecksumIEEE(payload) != crc {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			continue
		}
		fn(&entry)
	}
}
