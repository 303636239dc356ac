package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/pkg/types"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 123_000_000, time.UTC)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: testNow}
	base := []Option{WithClock(clock.Now), WithLogger(zerolog.Nop())}
	return New(filepath.Join(t.TempDir(), "esp32"), append(base, opts...)...), clock
}

// writeRaw writes a partition file directly and sets its modification time.
func writeRaw(t *testing.T, dir, name string, content any, mtime time.Time) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	var data []byte
	switch c := content.(type) {
	case string:
		data = []byte(c)
	default:
		var err error
		data, err = json.Marshal(c)
		require.NoError(t, err)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func readFile(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestAppend_TwoSensorsThenFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.True(t, s.Append(ctx, types.Record{"device_id": "A", "v": 1}))
	require.True(t, s.Append(ctx, types.Record{"device_id": "B", "v": 2}))

	stored := readFile(t, filepath.Join(s.Dir(), "esp32_data_2024-03-15.json"))
	require.Len(t, stored, 2)
	assert.Equal(t, "A", stored[0]["device_id"])
	assert.Equal(t, "B", stored[1]["device_id"])

	got, err := s.Query(ctx, types.QueryOptions{SensorID: "A"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0]["device_id"])
	assert.Equal(t, "1", fmt.Sprint(got[0]["v"]))
}

func TestAppend_AssignsIngestionFields(t *testing.T) {
	s, _ := newTestStore(t)
	ok := s.Append(context.Background(), types.Record{
		"device_id":        "esp-1",
		"server_timestamp": 1,
		"received_at":      "yesterday",
	})
	require.True(t, ok)

	stored := readFile(t, filepath.Join(s.Dir(), types.PartitionName(testNow)))
	require.Len(t, stored, 1)
	assert.Equal(t, float64(testNow.UnixMilli()), stored[0]["server_timestamp"])
	assert.Equal(t, "2024-03-15T10:30:00.123Z", stored[0]["received_at"])
}

func TestAppend_DoesNotMutateInput(t *testing.T) {
	s, _ := newTestStore(t)
	in := types.Record{"device_id": "esp-1"}
	require.True(t, s.Append(context.Background(), in))
	assert.Len(t, in, 1)
}

func TestAppend_PartitionFollowsUTCDay(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.True(t, s.Append(ctx, types.Record{"device_id": "a"}))
	clock.Advance(24 * time.Hour)
	require.True(t, s.Append(ctx, types.Record{"device_id": "a"}))

	for _, name := range []string{"esp32_data_2024-03-15.json", "esp32_data_2024-03-16.json"} {
		assert.Len(t, readFile(t, filepath.Join(s.Dir(), name)), 1, name)
	}
}

func TestAppend_CreatesMissingDirectory(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := os.Stat(s.Dir())
	require.True(t, os.IsNotExist(err))

	require.True(t, s.Append(context.Background(), types.Record{"device_id": "a"}))
	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAppend_FileFormat(t *testing.T) {
	s, _ := newTestStore(t)
	require.True(t, s.Append(context.Background(), types.Record{"device_id": "<esp&1>"}))

	data, err := os.ReadFile(filepath.Join(s.Dir(), types.PartitionName(testNow)))
	require.NoError(t, err)
	want := "[\n  {\n    \"device_id\": \"<esp&1>\",\n" +
		"    \"received_at\": \"2024-03-15T10:30:00.123Z\",\n" +
		fmt.Sprintf("    \"server_timestamp\": %d\n", testNow.UnixMilli()) +
		"  }\n]"
	assert.Equal(t, want, string(data))
}

func TestAppend_CorruptPartitionStartsFresh(t *testing.T) {
	s, _ := newTestStore(t)
	path := writeRaw(t, s.Dir(), types.PartitionName(testNow), "{not json", testNow)

	require.True(t, s.Append(context.Background(), types.Record{"device_id": "a"}))
	assert.Len(t, readFile(t, path), 1)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	data, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestAppend_WriteFailureReturnsFalse(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	s := New(filepath.Join(blocker, "esp32"), WithLogger(zerolog.Nop()))
	assert.False(t, s.Append(context.Background(), types.Record{"device_id": "a"}))
}

func TestAppend_PublishesNotification(t *testing.T) {
	n := router.NewNotifier(4)
	sub := n.Subscribe("esp-9")
	s, _ := newTestStore(t, WithPublisher(n))

	require.True(t, s.Append(context.Background(), types.Record{"device_id": "esp-9", "temp": 3.5}))

	select {
	case notif := <-sub.Ch:
		assert.Equal(t, router.RecordAppended, notif.Type)
		assert.Equal(t, "esp32_data_2024-03-15.json", notif.Partition)
		assert.Equal(t, testNow.UnixMilli(), notif.Timestamp)
		assert.Equal(t, 3.5, notif.Record["temp"])
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestAppend_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.True(t, s.Append(context.Background(), types.Record{"device_id": fmt.Sprintf("esp-%d", i%5), "seq": i}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, readFile(t, filepath.Join(s.Dir(), types.PartitionName(testNow))), 50)
}

func TestAppend_CustomDeviceField(t *testing.T) {
	s, _ := newTestStore(t, WithDeviceField("sensor"))
	ctx := context.Background()
	require.True(t, s.Append(ctx, types.Record{"sensor": "x", "device_id": "y"}))

	got, err := s.Query(ctx, types.QueryOptions{SensorID: "x"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.Query(ctx, types.QueryOptions{SensorID: "y"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoundTrip(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	const n = 30
	for i := 0; i < n; i++ {
		require.True(t, s.Append(ctx, types.Record{
			"device_id":   "esp-1",
			"seq":         i,
			"temperature": -18.25,
			"nested":      map[string]any{"ok": true},
		}))
		clock.Advance(time.Millisecond)
	}

	got, err := s.Query(ctx, types.QueryOptions{Limit: 200, Hours: 1})
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, r := range got {
		assert.Equal(t, fmt.Sprint(n-1-i), fmt.Sprint(r["seq"]))
		assert.Equal(t, "-18.25", fmt.Sprint(r["temperature"]))
		assert.Equal(t, map[string]any{"ok": true}, r["nested"])
	}
}

func TestQuery_DefaultsAndCap(t *testing.T) {
	s, _ := newTestStore(t)
	records := make([]map[string]any, 250)
	for i := range records {
		records[i] = map[string]any{"device_id": "a", "server_timestamp": testNow.UnixMilli() - int64(i)}
	}
	writeRaw(t, s.Dir(), "esp32_data_2024-03-15.json", records, testNow)
	ctx := context.Background()

	got, err := s.Query(ctx, types.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 50)

	got, err = s.Query(ctx, types.QueryOptions{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, got, 200)
	assert.Equal(t, testNow.UnixMilli(), got[0].ServerTimestamp())
}

func TestQuery_HoursBoundaryIsExclusive(t *testing.T) {
	s, _ := newTestStore(t)
	cutoff := testNow.Add(-2 * time.Hour).UnixMilli()
	writeRaw(t, s.Dir(), "esp32_data_2024-03-15.json", []map[string]any{
		{"device_id": "a", "server_timestamp": cutoff},
		{"device_id": "b", "server_timestamp": cutoff + 1},
		{"device_id": "c"},
	}, testNow)

	got, err := s.Query(context.Background(), types.QueryOptions{Hours: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0]["device_id"])
}

func TestQuery_HugeHoursReturnsEverything(t *testing.T) {
	s, _ := newTestStore(t)
	require.True(t, s.Append(context.Background(), types.Record{"device_id": "a"}))
	writeRaw(t, s.Dir(), "esp32_data_1971-01-01.json", []map[string]any{
		{"device_id": "b", "server_timestamp": int64(365 * 24 * time.Hour / time.Millisecond)},
	}, testNow)

	for _, hours := range []int{8760 * 60, 3_000_000, math.MaxInt32, math.MaxInt} {
		got, err := s.Query(context.Background(), types.QueryOptions{Hours: hours})
		require.NoError(t, err)
		assert.Len(t, got, 2, "hours=%d", hours)
	}
}

func TestCutoffMillis(t *testing.T) {
	now := time.UnixMilli(10 * 3_600_000)
	assert.Equal(t, int64(9*3_600_000), cutoffMillis(now, 1))
	assert.Equal(t, int64(0), cutoffMillis(now, 10))
	assert.Equal(t, int64(0), cutoffMillis(now, 11))
	assert.Equal(t, int64(0), cutoffMillis(now, math.MaxInt))
}

func TestQuery_ReadsOnlyRecentWindow(t *testing.T) {
	s, _ := newTestStore(t)
	ts := testNow.UnixMilli() - 1000
	for i := 0; i < 9; i++ {
		name := fmt.Sprintf("esp32_data_2024-03-%02d.json", i+1)
		writeRaw(t, s.Dir(), name, []map[string]any{{"device_id": name, "server_timestamp": ts}},
			testNow.Add(-time.Duration(9-i)*time.Hour))
	}

	got, err := s.Query(context.Background(), types.QueryOptions{Hours: 1000})
	require.NoError(t, err)
	require.Len(t, got, 7)
	for _, r := range got {
		assert.NotEqual(t, "esp32_data_2024-03-01.json", r["device_id"])
		assert.NotEqual(t, "esp32_data_2024-03-02.json", r["device_id"])
	}

	wide := New(s.Dir(), WithClock(func() time.Time { return testNow }), WithLogger(zerolog.Nop()), WithQueryFileWindow(9))
	got, err = wide.Query(context.Background(), types.QueryOptions{Hours: 1000})
	require.NoError(t, err)
	assert.Len(t, got, 9)
}

func TestQuery_SingleObjectFileAndCorruptFile(t *testing.T) {
	s, _ := newTestStore(t)
	ts := testNow.UnixMilli() - 10
	writeRaw(t, s.Dir(), "esp32_data_2024-03-14.json", map[string]any{"device_id": "solo", "server_timestamp": ts}, testNow)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-13.json", "[{\"device_id\": ", testNow)
	writeRaw(t, s.Dir(), "notes.txt", "ignored", testNow)

	got, err := s.Query(context.Background(), types.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "solo", got[0]["device_id"])
}

func TestQuery_EmptyStoreReturnsEmptySlice(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Query(context.Background(), types.QueryOptions{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQuery_DirectoryFailurePropagates(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	s := New(blocker, WithLogger(zerolog.Nop()))

	_, err := s.Query(context.Background(), types.QueryOptions{})
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCategoryPartition, ferrors.GetCategory(err))

	_, err = s.Stats(context.Background())
	assert.Error(t, err)
	_, err = s.Prune(context.Background(), 30)
	assert.Error(t, err)
}

func TestQuery_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	require.True(t, s.Append(context.Background(), types.Record{"device_id": "a"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Query(ctx, types.QueryOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-01.json", []map[string]any{
		{"device_id": "zeta"}, {"device_id": "alpha"}, {"device_id": "zeta"},
	}, testNow)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-02.json", map[string]any{"device_id": "mid"}, testNow)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-03.json", "garbage", testNow)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-04.json", []map[string]any{{"temp": 1}}, testNow)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalFiles)
	assert.Equal(t, 5, st.TotalRecords)
	assert.Equal(t, 3, st.UniqueSensors)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, st.SensorIDs)
	assert.Equal(t, "0.00", st.TotalSizeMB)
}

func TestStats_SizeInMB(t *testing.T) {
	s, _ := newTestStore(t)
	big := []map[string]any{{"device_id": "a", "blob": strings.Repeat("x", 3*1024*1024)}}
	writeRaw(t, s.Dir(), "esp32_data_2024-03-01.json", big, testNow)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.00", st.TotalSizeMB)
}

func TestStats_EmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalFiles)
	assert.NotNil(t, st.SensorIDs)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"totalFiles":0,"totalRecords":0,"totalSizeMB":"0.00","uniqueSensors":0,"sensorIds":[]}`, string(data))
}

func TestPrune_DeletesOnlyOldFiles(t *testing.T) {
	s, _ := newTestStore(t)
	old := writeRaw(t, s.Dir(), "esp32_data_2024-01-01.json", []map[string]any{}, testNow.Add(-31*24*time.Hour))
	edge := writeRaw(t, s.Dir(), "esp32_data_2024-02-14.json", []map[string]any{}, testNow.Add(-29*24*time.Hour))
	fresh := writeRaw(t, s.Dir(), "esp32_data_2024-03-15.json", []map[string]any{}, testNow)

	n, err := s.Prune(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, edge)
	assert.FileExists(t, fresh)
}

func TestPrune_ZeroDaysDeletesEverythingOlderThanNow(t *testing.T) {
	s, _ := newTestStore(t)
	writeRaw(t, s.Dir(), "esp32_data_2024-03-14.json", []map[string]any{}, testNow.Add(-time.Minute))
	writeRaw(t, s.Dir(), "esp32_data_2024-03-13.json", []map[string]any{}, testNow.Add(-time.Hour))

	n, err := s.Prune(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrune_HookFailureKeepsFile(t *testing.T) {
	var hooked []string
	s, _ := newTestStore(t, WithBeforePrune(func(_ context.Context, path string, info os.FileInfo) error {
		hooked = append(hooked, info.Name())
		if strings.Contains(path, "01-01") {
			return fmt.Errorf("archive unavailable")
		}
		return nil
	}))
	keep := writeRaw(t, s.Dir(), "esp32_data_2024-01-01.json", []map[string]any{}, testNow.Add(-60*24*time.Hour))
	gone := writeRaw(t, s.Dir(), "esp32_data_2024-01-02.json", []map[string]any{}, testNow.Add(-59*24*time.Hour))

	n, err := s.Prune(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"esp32_data_2024-01-01.json", "esp32_data_2024-01-02.json"}, hooked)
	assert.FileExists(t, keep)
	_, err = os.Stat(gone)
	assert.True(t, os.IsNotExist(err))
}

func TestPrune_PublishesNotification(t *testing.T) {
	n := router.NewNotifier(4)
	sub := n.Subscribe()
	s, _ := newTestStore(t, WithPublisher(n))
	writeRaw(t, s.Dir(), "esp32_data_2024-01-01.json", []map[string]any{}, testNow.Add(-40*24*time.Hour))

	_, err := s.Prune(context.Background(), 30)
	require.NoError(t, err)

	notif := <-sub.Ch
	assert.Equal(t, router.PartitionPruned, notif.Type)
	assert.Equal(t, "esp32_data_2024-01-01.json", notif.Partition)
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	s := New(dir)
	require.NoError(t, s.EnsureDataDir())
	require.NoError(t, s.EnsureDataDir())
	assert.DirExists(t, dir)
}
