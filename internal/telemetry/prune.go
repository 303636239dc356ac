package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Prune deletes partition files last modified before now-retentionDays and
// returns how many were removed. A negative retention uses the 30-day
// default. Files whose before-prune hook or removal fails are kept.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int, error) {
	defer observability.ObserveOperation("prune", time.Now())

	if retentionDays < 0 {
		retentionDays = types.DefaultRetentionDays
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDataDir(); err != nil {
		return 0, err
	}
	files, err := s.listPartitions()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted := 0

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !f.modTime.Before(cutoff) {
			continue
		}

		if s.beforePrune != nil {
			info, err := os.Stat(f.path)
			if err != nil {
				s.logger.Warn().Err(err).Str("file", f.name).Msg("partition vanished before prune")
				continue
			}
			if err := s.beforePrune(ctx, f.path, info); err != nil {
				s.logger.Warn().Err(err).Str("file", f.name).Msg("before-prune hook failed, keeping partition")
				continue
			}
		}

		if err := os.Remove(f.path); err != nil {
			s.logger.Warn().Err(err).Str("file", f.name).Msg("failed to delete partition")
			continue
		}
		deleted++
		if s.index != nil {
			s.index.Forget(f.path)
		}
		observability.PartitionsPruned.Inc()
		s.logger.Info().Str("file", f.name).Time("modified", f.modTime).Msg("partition pruned")
		s.publish(router.Notification{
			Type:      router.PartitionPruned,
			Partition: f.name,
			Timestamp: s.now().UnixMilli(),
		})
	}

	return deleted, nil
}
