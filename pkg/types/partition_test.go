package types

import (
	"errors"
	"testing"
	"time"
)

func TestPartitionName(t *testing.T) {
	ts := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	if got := PartitionName(ts); got != "esp32_data_2026-03-09.json" {
		t.Errorf("got %q", got)
	}

	// A local time just past midnight east of UTC is still the previous UTC day.
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 3, 10, 1, 0, 0, 0, loc)
	if got := PartitionName(local); got != "esp32_data_2026-03-09.json" {
		t.Errorf("got %q, want UTC-normalized day", got)
	}
}

func TestParsePartitionName(t *testing.T) {
	day, err := ParsePartitionName("esp32_data_2025-12-31.json")
	if err != nil {
		t.Fatalf("ParsePartitionName failed: %v", err)
	}
	if !day.Equal(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", day)
	}

	for _, name := range []string{
		"esp32_data_2025-13-01.json",
		"esp32_data_.json",
		"other_2025-12-31.json",
		"esp32_data_2025-12-31.txt",
	} {
		if _, err := ParsePartitionName(name); !errors.Is(err, ErrInvalidPartitionName) {
			t.Errorf("%q: expected ErrInvalidPartitionName, got %v", name, err)
		}
	}
}

func TestPartitionNameRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 800; i++ {
		day := start.AddDate(0, 0, i)
		parsed, err := ParsePartitionName(PartitionName(day))
		if err != nil {
			t.Fatalf("day %d: %v", i, err)
		}
		if parsed.Format(PartitionDateLayout) != day.Format(PartitionDateLayout) {
			t.Fatalf("day %d: got %v", i, parsed)
		}
	}
}

func TestIsPartitionFile(t *testing.T) {
	cases := map[string]bool{
		"esp32_data_2026-01-01.json":      true,
		"anything.json":                   true,
		".esp32_data_2026-01-01.json.tmp": false,
		".hidden.json":                    false,
		"notes.txt":                       false,
	}
	for name, want := range cases {
		if got := IsPartitionFile(name); got != want {
			t.Errorf("%q: got %v, want %v", name, got, want)
		}
	}
}
