package blobstore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "ingest_raw/ingest_raw.bin", strings.NewReader("dataset"), 7))
	require.NoError(t, store.Put(ctx, "ingest_raw/ingest_raw_index_disk.index", strings.NewReader("index"), -1))
	require.NoError(t, store.Put(ctx, "query_raw/query_raw.bin", strings.NewReader("other"), 5))

	rc, err := store.Get(ctx, "ingest_raw/ingest_raw.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "dataset", string(data))

	size, err := store.Stat(ctx, "ingest_raw/ingest_raw_index_disk.index")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	names, err := store.List(ctx, "ingest_raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest_raw/ingest_raw.bin", "ingest_raw/ingest_raw_index_disk.index"}, names)

	// Overwrite.
	require.NoError(t, store.Put(ctx, "ingest_raw/ingest_raw.bin", strings.NewReader("dataset v2"), 10))
	size, err = store.Stat(ctx, "ingest_raw/ingest_raw.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	require.NoError(t, store.Delete(ctx, "ingest_raw/ingest_raw.bin"))
	require.NoError(t, store.Delete(ctx, "ingest_raw/ingest_raw.bin"))

	_, err = store.Get(ctx, "ingest_raw/ingest_raw.bin")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Stat(ctx, "ingest_raw/ingest_raw.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "absent"))
	names, err := store.List(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_ListSkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin.tmp"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.bin"), nil, 0644))

	names, err := NewLocalStore(root).List(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin"}, names)
}
