package cli

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/namespace"
)

// writeTool writes an executable shell script standing in for a DiskANN tool.
func writeTool(t *testing.T, dir, name, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tools require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

// fakeBuild records its arguments and creates the artifact set.
const fakeBuild = `echo "$@" > "$(dirname "$0")/build.args"
while [ $# -gt 0 ]; do
  case "$1" in
    --index_path_prefix) P="$2"; shift ;;
  esac
  shift
done
touch "${P}_pq_pivots.bin" "${P}_pq_compressed.bin" "${P}_disk.index"`

func buildRequest(dir string) engine.BuildRequest {
	return engine.BuildRequest{
		DataType:    engine.Float,
		Metric:      engine.L2,
		DataPath:    filepath.Join(dir, "query_raw.bin"),
		IndexPrefix: filepath.Join(dir, "query_raw_index"),
		R:           32,
		L:           50,
		B:           0.1,
		M:           0.1,
		T:           4,
	}
}

func TestBuild_Success(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, DefaultBuildBinary, fakeBuild)
	work := t.TempDir()

	e := New(WithBinDir(bin))
	req := buildRequest(work)
	status, err := e.Build(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, status.Success())

	args, err := os.ReadFile(filepath.Join(bin, "build.args"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(req.Args(), " "), strings.TrimSpace(string(args)))

	_, err = os.Stat(req.IndexPrefix + namespace.SuffixDiskIndex)
	assert.NoError(t, err)
}

func TestBuild_NonZeroExit(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, DefaultBuildBinary, `echo "ERROR: -R too large" >&2
exit 3`)

	status, err := New(WithBinDir(bin)).Build(t.Context(), buildRequest(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)
	assert.Equal(t, "ERROR: -R too large", status.Stderr)
}

func TestBuild_Signaled(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, DefaultBuildBinary, `kill -9 $$`)

	status, err := New(WithBinDir(bin)).Build(t.Context(), buildRequest(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, -1, status.Code)
}

func TestBuild_MissingBinary(t *testing.T) {
	_, err := New(WithBinDir(t.TempDir())).Build(t.Context(), buildRequest(t.TempDir()))
	assert.ErrorIs(t, err, adadisk.ErrEngineUnavailable)
	assert.False(t, adadisk.IsRetryable(err))
}

func TestBuild_InvalidRequest(t *testing.T) {
	req := buildRequest(t.TempDir())
	req.T = 0
	_, err := New().Build(t.Context(), req)
	assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

// writeIndexMeta writes a disk index holding only its metadata sector.
func writeIndexMeta(t *testing.T, prefix string, points, dim uint64) {
	t.Helper()
	f, err := os.Create(prefix + namespace.SuffixDiskIndex)
	require.NoError(t, err)
	_, err = engine.DiskIndexMeta{Points: points, Dimension: dim}.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	for _, suffix := range []string{namespace.SuffixPQPivots, namespace.SuffixPQCompressed} {
		require.NoError(t, os.WriteFile(prefix+suffix, nil, 0644))
	}
}

// fakeSearch copies canned result files to the names search_disk_index uses.
const fakeSearch = `echo "$@" > "$(dirname "$0")/search.args"
while [ $# -gt 0 ]; do
  case "$1" in
    --result_path) R="$2"; shift ;;
    -L) L="$2"; shift ;;
  esac
  shift
done
cp "$ADADISK_FAKE_IDS" "${R}_${L}_idx_uint32.bin"
cp "$ADADISK_FAKE_DISTS" "${R}_${L}_dists_float.bin"`

func TestSearch(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, DefaultSearchBinary, fakeSearch)

	canned := t.TempDir()
	ids := filepath.Join(canned, "ids.bin")
	dists := filepath.Join(canned, "dists.bin")
	require.NoError(t, dataset.WriteBinFile(nil, ids, dataset.Matrix[uint32]{Rows: 1, Cols: 5, Data: []uint32{7, 3, 9, 1, 4}}))
	require.NoError(t, dataset.WriteBinFile(nil, dists, dataset.Matrix[float32]{Rows: 1, Cols: 5, Data: []float32{0.1, 0.2, 0.3, 0.4, 0.5}}))
	t.Setenv("ADADISK_FAKE_IDS", ids)
	t.Setenv("ADADISK_FAKE_DISTS", dists)

	prefix := filepath.Join(t.TempDir(), "query_raw_index")
	writeIndexMeta(t, prefix, 100, 4)

	e := New(WithBinDir(bin), WithTempDir(t.TempDir()))
	s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Threads: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dimension())
	assert.Equal(t, 100, s.Points())

	res, err := s.Search(t.Context(), engine.SearchRequest{
		Query: []float32{0.5, 0.5, 0.5, 0.5}, K: 5, L: 20, BeamWidth: 4,
	})
	require.NoError(t, err)
	require.Len(t, res, 5)
	assert.Equal(t, uint64(7), res[0].ID)
	assert.Equal(t, float32(0.5), res[4].Distance)

	args, err := os.ReadFile(filepath.Join(bin, "search.args"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--index_path_prefix "+prefix)
	assert.Contains(t, string(args), "-K 5 -L 20 -W 4")
	assert.NotContains(t, string(args), "--use_reorder_data")

	_, err = s.Search(t.Context(), engine.SearchRequest{Query: []float32{1}, K: 5})
	assert.ErrorIs(t, err, adadisk.ErrDimensionMismatch)

	require.NoError(t, s.Close())
	_, err = s.Search(t.Context(), engine.SearchRequest{Query: make([]float32, 4), K: 5})
	assert.ErrorIs(t, err, adadisk.ErrClosed)
}

func TestLoad_MissingArtifacts(t *testing.T) {
	bin := t.TempDir()
	writeTool(t, bin, DefaultSearchBinary, "exit 0")

	_, err := New(WithBinDir(bin)).Load(t.Context(), engine.LoadRequest{IndexPrefix: filepath.Join(t.TempDir(), "none")})
	assert.ErrorIs(t, err, adadisk.ErrLoadFailure)
}

func TestLoad_MissingSearchTool(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "idx")
	writeIndexMeta(t, prefix, 10, 2)

	_, err := New(WithBinDir(t.TempDir())).Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix})
	assert.ErrorIs(t, err, adadisk.ErrEngineUnavailable)
}
