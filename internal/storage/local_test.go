package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_PutGet(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "archive/2024/01/esp32_data_2024-01-15.json.sz", []byte("hello world")))

	exists, err := store.Exists(ctx, "archive/2024/01/esp32_data_2024-01-15.json.sz")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "archive/2024/01/esp32_data_2024-01-15.json.sz")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)
}

func TestLocalStorage_PutOverwrites(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.bin", []byte("one")))
	require.NoError(t, store.Put(ctx, "a.bin", []byte("two")))

	data, err := store.Get(ctx, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalStorage_GetMissing(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_Delete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "x/y", []byte("z")))
	require.NoError(t, store.Delete(ctx, "x/y"))

	exists, err := store.Exists(ctx, "x/y")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting again is not an error
	assert.NoError(t, store.Delete(ctx, "x/y"))
}

func TestLocalStorage_ListObjects(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStorage(base)
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"archive/2024/02/b", "archive/2024/01/a", "other/c"} {
		require.NoError(t, store.Put(ctx, p, []byte("x")))
	}
	// Leftover partial uploads are invisible
	require.NoError(t, os.WriteFile(filepath.Join(base, "archive", "2024", "01", "d.part"), []byte("x"), 0644))

	objs, err := store.ListObjects(ctx, "archive/")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/2024/01/a", "archive/2024/02/b"}, objs)

	all, err := store.ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalStorage_PathsStayInsideBase(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStorage(base)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "../../escape", []byte("x")))
	_, err = os.Stat(filepath.Join(base, "escape"))
	assert.NoError(t, err)

	err = store.Put(ctx, "/", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "a", []byte("b")), context.Canceled)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
