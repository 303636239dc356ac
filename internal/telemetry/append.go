package telemetry

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/internal/wal"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Append stores rec in today's partition file. The stored copy carries
// server_timestamp and received_at, overwriting caller values for those keys.
// Failures are logged and reported as false.
func (s *Store) Append(ctx context.Context, rec types.Record) bool {
	ok := s.append(ctx, rec)
	observability.RecordAppend(ok)
	return ok
}

func (s *Store) append(ctx context.Context, rec types.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("append canceled")
		return false
	}
	if err := s.EnsureDataDir(); err != nil {
		s.logger.Error().Err(err).Msg("append failed")
		return false
	}

	now := s.now()
	name := types.PartitionName(now)
	path := filepath.Join(s.dir, name)

	stored := rec.Clone()
	stored[types.FieldServerTimestamp] = now.UnixMilli()
	stored[types.FieldReceivedAt] = now.UTC().Format(types.ReceivedAtLayout)

	var lsn uint64
	if s.journal != nil {
		payload, err := json.Marshal(stored)
		if err != nil {
			s.logger.Error().Err(err).Msg("record not serializable")
			return false
		}
		lsn, err = s.journal.Append(&wal.Entry{
			Partition: name,
			Record:    payload,
			Timestamp: now.UnixMilli(),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("file", name).Msg("journal append failed")
			return false
		}
	}

	records := append(s.loadForWrite(path), stored)
	werr := writePartition(path, records)

	// The journal entry is settled either way: written, or reported failed to
	// the caller and not to be resurrected by recovery.
	if s.journal != nil {
		if err := s.journal.Checkpoint(lsn); err != nil {
			s.logger.Warn().Err(err).Uint64("lsn", lsn).Msg("journal checkpoint failed")
		}
	}

	if werr != nil {
		s.logger.Error().Err(werr).Str("file", name).Msg("failed to write partition")
		return false
	}

	sensor := s.sensorOf(stored)
	s.logger.Debug().Str("file", name).Str("sensor", sensor).Int("records", len(records)).Msg("record appended")
	s.publish(router.Notification{
		Type:      router.RecordAppended,
		Partition: name,
		SensorID:  sensor,
		Record:    stored,
		LSN:       lsn,
		Timestamp: now.UnixMilli(),
	})
	return true
}

// Replay writes journaled entries for one partition, skipping records the
// partition already holds. It returns how many records were written.
func (s *Store) Replay(ctx context.Context, partition string, entries []*wal.Entry) (int, error) {
	if _, err := types.ParsePartitionName(partition); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureDataDir(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := filepath.Join(s.dir, partition)
	records := s.loadForWrite(path)

	// Counted, not a set: identical records appended in the same millisecond
	// are distinct entries, and each one already on disk absorbs one entry.
	present := make(map[string]int, len(records))
	for _, r := range records {
		if key, err := recordKey(r); err == nil {
			present[key]++
		}
	}

	added := 0
	for _, e := range entries {
		recs, err := decodePartition(e.Record)
		if err != nil || len(recs) != 1 {
			s.logger.Warn().Uint64("lsn", e.LSN).Msg("skipping undecodable journal entry")
			continue
		}
		key, err := recordKey(recs[0])
		if err != nil {
			continue
		}
		if present[key] > 0 {
			present[key]--
			continue
		}
		records = append(records, recs[0])
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := writePartition(path, records); err != nil {
		return 0, err
	}
	observability.JournalReplayed.Add(float64(added))
	s.logger.Info().Str("file", partition).Int("replayed", added).Msg("journal entries restored")
	return added, nil
}

// recordKey is the canonical JSON of a decoded record; map keys marshal in
// sorted order and json.Number values verbatim.
func recordKey(r types.Record) (string, error) {
	b, err := json.Marshal(r)
	return string(b), err
}
