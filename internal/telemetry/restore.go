package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// CountRecords returns how many records a partition file's content holds.
func CountRecords(data []byte) (int, error) {
	records, err := decodePartition(data)
	if err != nil {
		return 0, ferrors.NewPartitionError(ferrors.CodeCorruptPartition, "partition content is not readable", err)
	}
	return len(records), nil
}

// Restore writes a previously archived partition file back into the store
// under name and returns its record count. An existing file is never
// overwritten.
func (s *Store) Restore(ctx context.Context, name string, data []byte) (int, error) {
	if filepath.Base(name) != name || !types.IsPartitionFile(name) {
		return 0, ferrors.NewValidationError(ferrors.CodeInvalidParameter,
			fmt.Sprintf("invalid partition name %q", name))
	}
	n, err := CountRecords(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.EnsureDataDir(); err != nil {
		return 0, err
	}

	path := filepath.Join(s.dir, name)
	tmp := filepath.Join(s.dir, "."+name+".restore")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, ferrors.NewPartitionError(ferrors.CodeWriteFailed, "failed to stage restored partition", err)
	}
	defer os.Remove(tmp)

	// Link fails if path exists, so a concurrent writer is never clobbered.
	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, ferrors.NewPartitionError(ferrors.CodeAlreadyExists,
				fmt.Sprintf("partition %s already exists", name), err)
		}
		return 0, ferrors.NewPartitionError(ferrors.CodeWriteFailed, "failed to restore partition", err)
	}

	if s.index != nil {
		s.index.Forget(path)
	}
	s.logger.Info().Str("file", name).Int("records", n).Msg("partition restored")
	return n, nil
}
