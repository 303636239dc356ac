package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(partition string, i int) *Entry {
	rec, _ := json.Marshal(map[string]any{"device_id": "esp-1", "temp": i})
	return &Entry{Partition: partition, Record: rec}
}

func TestWAL_AppendSingleEntry(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	lsn, err := wal.Append(newEntry("esp32_data_2024-03-01.json", 1))
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), lsn)

	readEntries, err := ReadEntries(filepath.Join(dir, "wal_0000000000000000.log"))
	assert.NoError(t, err)
	require.Len(t, readEntries, 1)
	assert.Equal(t, uint64(1), readEntries[0].LSN)
	assert.Equal(t, "esp32_data_2024-03-01.json", readEntries[0].Partition)
	assert.JSONEq(t, `{"device_id":"esp-1","temp":1}`, string(readEntries[0].Record))
	assert.NotZero(t, readEntries[0].Timestamp)
}

func TestWAL_AppendMultipleEntries(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	for i := 0; i < 1000; i++ {
		lsn, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), lsn)
	}

	entries, err := ReadEntries(filepath.Join(dir, "wal_0000000000000000.log"))
	require.NoError(t, err)
	assert.Len(t, entries, 1000)
	assert.Equal(t, uint64(1000), wal.CurrentLSN())
}

func TestWAL_SegmentRotation(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 256, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	for i := 0; i < 20; i++ {
		_, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
	}

	paths, err := wal.SegmentPaths()
	require.NoError(t, err)
	assert.Greater(t, len(paths), 1)

	total := 0
	for _, p := range paths {
		entries, err := ReadEntries(p)
		require.NoError(t, err)
		total += len(entries)
	}
	assert.Equal(t, 20, total)
}

func TestWAL_ReopenContinuesLSN(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
	}
	require.NoError(t, wal.Close())

	wal2, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal2.Close()

	lsn, err := wal2.Append(newEntry("p", 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), lsn)
}

func TestWAL_ReopenAfterTruncateKeepsLSN(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
	}
	require.NoError(t, wal.Checkpoint(3))
	require.NoError(t, wal.Truncate())
	require.NoError(t, wal.Close())

	paths, err := filepath.Glob(filepath.Join(dir, "wal_*.log"))
	require.NoError(t, err)
	assert.Len(t, paths, 1, "only the fresh empty segment remains")

	wal2, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal2.Close()
	assert.Equal(t, uint64(3), wal2.CheckpointLSN())

	lsn, err := wal2.Append(newEntry("p", 3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), lsn)
}

func TestWAL_CheckpointRemovesClosedSegments(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	_, err = wal.Append(newEntry("p", 1))
	require.NoError(t, err)
	require.NoError(t, wal.RotateSegment())
	_, err = wal.Append(newEntry("p", 2))
	require.NoError(t, err)

	require.NoError(t, wal.Checkpoint(1))
	_, err = os.Stat(filepath.Join(dir, "wal_0000000000000000.log"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "wal_0000000000000001.log"))
	assert.NoError(t, err)
}

func TestWAL_CheckpointBeyondLSNFails(t *testing.T) {
	wal, err := NewWAL(t.TempDir(), 1024, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	assert.Error(t, wal.Checkpoint(10))
}

func TestWAL_TruncatedWriteStopsReading(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
	}
	require.NoError(t, wal.Close())

	path := filepath.Join(dir, "wal_0000000000000000.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], 100)
	_, err = f.Write(append(header, []byte(`{"lsn":4`)...))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestWAL_CorruptChecksumSkipped(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 64*1024*1024, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := wal.Append(newEntry("p", i))
		require.NoError(t, err)
	}
	require.NoError(t, wal.Close())

	path := filepath.Join(dir, "wal_0000000000000000.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// flip a payload byte in the first frame
	data[10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].LSN)
}

func TestWAL_ConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir, 4096, zerolog.Nop())
	require.NoError(t, err)
	defer wal.Close()

	var wg sync.WaitGroup
	lsns := make(chan uint64, 200)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				lsn, err := wal.Append(newEntry(fmt.Sprintf("p%d", g), i))
				assert.NoError(t, err)
				lsns <- lsn
			}
		}(g)
	}
	wg.Wait()
	close(lsns)

	seen := make(map[uint64]bool)
	for lsn := range lsns {
		assert.False(t, seen[lsn], "duplicate lsn %d", lsn)
		seen[lsn] = true
	}
	assert.Len(t, seen, 200)
}

func TestWAL_AppendAfterClose(t *testing.T) {
	wal, err := NewWAL(t.TempDir(), 1024, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, wal.Close())

	_, err = wal.Append(newEntry("p", 1))
	assert.Error(t, err)
}
