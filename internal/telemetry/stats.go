package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Stats scans every partition file. totalFiles and totalSizeMB cover all
// listed files; totalRecords and the sensor set cover the parseable ones.
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	defer observability.ObserveOperation("stats", time.Now())

	if err := s.EnsureDataDir(); err != nil {
		return nil, err
	}
	files, err := s.listPartitions()
	if err != nil {
		return nil, err
	}

	var totalBytes int64
	totalRecords := 0
	sensors := make(map[string]struct{})

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		totalBytes += f.size

		records, err := readPartition(f.path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", f.name).Msg("skipping unreadable partition")
			continue
		}
		totalRecords += len(records)

		ids := s.sensorIDs(records)
		for _, id := range ids {
			sensors[id] = struct{}{}
		}
		if s.index != nil {
			s.index.Observe(f, ids)
		}
	}

	sensorIDs := make([]string, 0, len(sensors))
	for id := range sensors {
		sensorIDs = append(sensorIDs, id)
	}
	sort.Strings(sensorIDs)

	observability.PartitionFiles.Set(float64(len(files)))

	return &types.Stats{
		TotalFiles:    len(files),
		TotalRecords:  totalRecords,
		TotalSizeMB:   fmt.Sprintf("%.2f", float64(totalBytes)/1024/1024),
		UniqueSensors: len(sensorIDs),
		SensorIDs:     sensorIDs,
	}, nil
}
