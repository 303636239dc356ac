package types

import (
	"fmt"
	"strings"
	"time"
)

// Partition file naming: esp32_data_<YYYY-MM-DD>.json
const (
	PartitionPrefix     = "esp32_data_"
	PartitionExt        = ".json"
	PartitionDateLayout = "2006-01-02"
)

// PartitionName returns the partition file name for the UTC calendar day of t.
func PartitionName(t time.Time) string {
	return PartitionPrefix + t.UTC().Format(PartitionDateLayout) + PartitionExt
}

// ParsePartitionName extracts the calendar day encoded in a partition file name.
func ParsePartitionName(name string) (time.Time, error) {
	if !strings.HasPrefix(name, PartitionPrefix) || !strings.HasSuffix(name, PartitionExt) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPartitionName, name)
	}
	day := strings.TrimSuffix(strings.TrimPrefix(name, PartitionPrefix), PartitionExt)
	t, err := time.ParseInLocation(PartitionDateLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPartitionName, name)
	}
	return t, nil
}

// IsPartitionFile reports whether a directory entry name is counted as a
// partition file. Every *.json file in the store directory is.
func IsPartitionFile(name string) bool {
	return strings.HasSuffix(name, PartitionExt) && !strings.HasPrefix(name, ".")
}
