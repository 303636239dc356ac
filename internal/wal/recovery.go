package wal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Replayer applies journaled entries for one partition and reports how many
// were actually written. Entries already present must be skipped.
type Replayer interface {
	Replay(ctx context.Context, partition string, entries []*Entry) (int, error)
}

// Recovery re-applies journal entries that were never checkpointed.
type Recovery struct {
	wal      *WAL
	replayer Replayer
	logger   zerolog.Logger
}

// RecoveryResult summarizes one recovery run.
type RecoveryResult struct {
	Pending    int
	Applied    int
	Partitions int
	Duration   time.Duration
}

// NewRecovery creates a new recovery instance.
func NewRecovery(wal *WAL, replayer Replayer, logger zerolog.Logger) *Recovery {
	return &Recovery{
		wal:      wal,
		replayer: replayer,
		logger:   logger,
	}
}

// Recover replays entries past the checkpoint, advances the checkpoint, and
// truncates the journal. A partition that fails to replay leaves the
// checkpoint untouched so the next start retries it.
func (r *Recovery) Recover(ctx context.Context) (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{}

	segments, err := r.wal.SegmentPaths()
	if err != nil {
		return nil, fmt.Errorf("recovery: failed to list segment files: %w", err)
	}

	checkpoint := r.wal.CheckpointLSN()

	var order []string
	groups := make(map[string][]*Entry)
	var highest uint64
	for _, path := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := ReadEntries(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("segment", path).Msg("failed to read segment")
			continue
		}
		for _, e := range entries {
			if e.LSN <= checkpoint {
				continue
			}
			if _, ok := groups[e.Partition]; !ok {
				order = append(order, e.Partition)
			}
			groups[e.Partition] = append(groups[e.Partition], e)
			if e.LSN > highest {
				highest = e.LSN
			}
			result.Pending++
		}
	}

	var failed int
	for _, partition := range order {
		applied, err := r.replayer.Replay(ctx, partition, groups[partition])
		if err != nil {
			r.logger.Error().Err(err).Str("partition", partition).Msg("failed to replay journal entries")
			failed++
			continue
		}
		result.Applied += applied
		result.Partitions++
	}

	result.Duration = time.Since(start)
	if failed > 0 {
		return result, fmt.Errorf("recovery: %d partition(s) failed to replay", failed)
	}

	if highest > 0 {
		if err := r.wal.Checkpoint(highest); err != nil {
			return result, fmt.Errorf("recovery: failed to checkpoint: %w", err)
		}
	}
	if err := r.wal.Truncate(); err != nil {
		return result, fmt.Errorf("recovery: failed to truncate: %w", err)
	}

	r.logger.Info().
		Int("pending", result.Pending).
		Int("applied", result.Applied).
		Int("partitions", result.Partitions).
		Dur("elapsed", result.Duration).
		Msg("journal recovery complete")

	return result, nil
}
