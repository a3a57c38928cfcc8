package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0755))

	fpath := filepath.Join(dir, "test.bin")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())
	assert.NoError(t, f.Close())

	assert.True(t, Exists(lfs, fpath))
	assert.False(t, Exists(lfs, dir), "directories are not files")

	newPath := filepath.Join(dir, "renamed.bin")
	assert.NoError(t, lfs.Rename(fpath, newPath))
	assert.NoError(t, lfs.Remove(newPath))
	assert.False(t, Exists(lfs, newPath))
	assert.NoError(t, SyncDir(lfs, dir))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	err := WriteFileAtomic(Default, path, 0644, func(w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestWriteFileAtomicKeepsOldContentOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	ffs := NewFaultyFS(nil)
	ffs.AddRule("data.bin", Fault{FailAfterBytes: 2})

	err := WriteFileAtomic(ffs, path, 0644, func(w io.Writer) error {
		_, err := w.Write([]byte("new content"))
		return err
	})
	require.ErrorIs(t, err, ErrInjected)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestFaultyFS(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("faulty", Fault{FailAfterBytes: 5})

	fpath := filepath.Join(tmp, "faulty.txt")
	f, err := ffs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(5), ffs.Written())
	require.NoError(t, f.Close())

	// Files not matching a rule are untouched.
	g, err := ffs.OpenFile(filepath.Join(tmp, "ok.txt"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = g.Write([]byte("everything fine"))
	assert.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestFaultyFS_OpenSyncRename(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("noopen", Fault{FailOnOpen: true})
	ffs.AddRule("nosync", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.AddRule("norename", Fault{FailAfterBytes: -1, FailOnRename: true})

	_, err := ffs.OpenFile(filepath.Join(tmp, "noopen"), os.O_CREATE|os.O_WRONLY, 0644)
	assert.ErrorIs(t, err, ErrInjected)

	f, err := ffs.OpenFile(filepath.Join(tmp, "nosync"), os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	require.NoError(t, f.Close())

	err = ffs.Rename(filepath.Join(tmp, "nosync"), filepath.Join(tmp, "norename"))
	assert.ErrorIs(t, err, ErrInjected)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTempName(t *testing.T) {
	a, b := TempName("/data/x.bin"), TempName("/data/x.bin")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "/data/x.bin."))
	assert.Equal(t, ".tmp", filepath.Ext(a))
}

func TestWriteFileAtomicConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			return WriteFileAtomic(Default, path, 0644, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "writer-%d", i)
				return err
			})
		})
	}
	require.NoError(t, g.Wait())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "writer-"))
	assertNoTempFiles(t, filepath.Dir(path))
}
