package telemetry

import (
	"sync"
	"time"

	"github.com/frostwatch/frostwatch/internal/bloom"
)

// SensorIndex caches one bloom filter of device identifiers per partition
// file. A filter is valid only for the modification time and size it was
// built from, so a rewritten partition is rebuilt on its next read.
type SensorIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
	fpr     float64
}

type indexEntry struct {
	modTime time.Time
	size    int64
	filter  *bloom.Filter
}

// NewSensorIndex creates an empty index with the given false positive rate.
func NewSensorIndex(fpr float64) *SensorIndex {
	if fpr <= 0 || fpr >= 1 {
		fpr = bloom.DefaultFPR
	}
	return &SensorIndex{
		entries: make(map[string]indexEntry),
		fpr:     fpr,
	}
}

// MayContain reports false only when a current filter proves sensor absent
// from the file. Files with no current filter report true.
func (x *SensorIndex) MayContain(f partitionFile, sensor string) bool {
	x.mu.RLock()
	e, ok := x.entries[f.path]
	x.mu.RUnlock()
	if !ok || !e.modTime.Equal(f.modTime) || e.size != f.size {
		return true
	}
	return e.filter.MayContain(sensor)
}

// Observe records the sensor IDs read from a file as listed in f. The content
// was read after f was listed, so the filter is a superset of what f held.
func (x *SensorIndex) Observe(f partitionFile, sensors []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[f.path]; ok && e.modTime.Equal(f.modTime) && e.size == f.size {
		return
	}
	x.entries[f.path] = indexEntry{
		modTime: f.modTime,
		size:    f.size,
		filter:  bloom.FromSensors(sensors, x.fpr),
	}
}

// Forget drops the filter for a deleted file.
func (x *SensorIndex) Forget(path string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, path)
}

// Len returns the number of cached filters.
func (x *SensorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
