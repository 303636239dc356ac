package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/frostwatch/frostwatch/internal/router"
)

// SensorActivity tracks per-sensor ingest frequency and last-seen time.
type SensorActivity struct {
	mu      sync.RWMutex
	sensors map[string]*SensorStats
	window  time.Duration
	now     func() time.Time
}

// SensorStats holds ingest statistics for one device identifier.
type SensorStats struct {
	SensorID  string    `json:"sensorId"`
	Records   int64     `json:"records"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// NewSensorActivity creates a tracker. Sensors silent for longer than window
// are dropped by Prune.
func NewSensorActivity(window time.Duration) *SensorActivity {
	return &SensorActivity{
		sensors: make(map[string]*SensorStats),
		window:  window,
		now:     time.Now,
	}
}

// Observe records one accepted record from sensorID.
func (a *SensorActivity) Observe(sensorID string, at time.Time) {
	if sensorID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, exists := a.sensors[sensorID]
	if !exists {
		stats = &SensorStats{SensorID: sensorID, FirstSeen: at}
		a.sensors[sensorID] = stats
	}
	stats.Records++
	if at.After(stats.LastSeen) {
		stats.LastSeen = at
	}
}

// Publish implements the store's publisher hook.
func (a *SensorActivity) Publish(n router.Notification) {
	if n.Type != router.RecordAppended {
		return
	}
	a.Observe(n.SensorID, time.UnixMilli(n.Timestamp))
}

// Top returns the n most active sensors by record count, ties broken by
// most recent activity. n <= 0 returns all.
func (a *SensorActivity) Top(n int) []SensorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := make([]SensorStats, 0, len(a.sensors))
	for _, s := range a.sensors {
		stats = append(stats, *s)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Records != stats[j].Records {
			return stats[i].Records > stats[j].Records
		}
		if !stats[i].LastSeen.Equal(stats[j].LastSeen) {
			return stats[i].LastSeen.After(stats[j].LastSeen)
		}
		return stats[i].SensorID < stats[j].SensorID
	})

	if n > 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}

// Len returns the number of tracked sensors.
func (a *SensorActivity) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sensors)
}

// Prune removes sensors whose LastSeen is older than the window and returns
// how many were dropped.
func (a *SensorActivity) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	threshold := a.now().Add(-a.window)
	dropped := 0
	for id, stats := range a.sensors {
		if stats.LastSeen.Before(threshold) {
			delete(a.sensors, id)
			dropped++
		}
	}
	return dropped
}
