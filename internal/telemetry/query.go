package telemetry

import (
	"context"
	"sort"
	"time"

	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Query returns records from the most recently modified partition files,
// newest first. Records at or before now-hours are dropped, and when
// opts.SensorID is set only that device's records are kept. Unreadable files
// are logged and skipped; a directory listing failure is returned.
func (s *Store) Query(ctx context.Context, opts types.QueryOptions) ([]types.Record, error) {
	defer observability.ObserveOperation("query", time.Now())

	opts = opts.Normalize()
	if err := s.EnsureDataDir(); err != nil {
		return nil, err
	}

	files, err := s.listPartitions()
	if err != nil {
		return nil, err
	}
	sortByModTimeDesc(files)
	if len(files) > s.fileWindow {
		files = files[:s.fileWindow]
	}

	cutoff := cutoffMillis(s.now(), opts.Hours)

	var out []types.Record
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.SensorID != "" && s.index != nil && !s.index.MayContain(f, opts.SensorID) {
			observability.PartitionsSkipped.Inc()
			continue
		}

		records, err := readPartition(f.path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", f.name).Msg("skipping unreadable partition")
			continue
		}
		if s.index != nil {
			s.index.Observe(f, s.sensorIDs(records))
		}

		for _, r := range records {
			if r.ServerTimestamp() <= cutoff {
				continue
			}
			if opts.SensorID != "" && s.sensorOf(r) != opts.SensorID {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ServerTimestamp() > out[j].ServerTimestamp()
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if out == nil {
		out = []types.Record{}
	}
	return out, nil
}

func (s *Store) sensorIDs(records []types.Record) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range records {
		id := s.sensorOf(r)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// cutoffMillis returns now-hours in epoch milliseconds, saturating at 0
// when the window reaches back past the epoch.
func cutoffMillis(now time.Time, hours int) int64 {
	const msPerHour = int64(time.Hour / time.Millisecond)
	nowMs := now.UnixMilli()
	if int64(hours) > nowMs/msPerHour {
		return 0
	}
	return nowMs - int64(hours)*msPerHour
}
