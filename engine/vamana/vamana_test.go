package vamana

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/namespace"
)

func buildRequest(dataPath, prefix string) engine.BuildRequest {
	return engine.BuildRequest{
		DataType:    engine.Float,
		Metric:      engine.L2,
		DataPath:    dataPath,
		IndexPrefix: prefix,
		R:           32,
		L:           50,
		B:           0.1,
		M:           0.1,
		T:           4,
	}
}

func generate(t *testing.T, n, d int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_raw.bin")
	_, err := dataset.Generate(t.Context(), path, n, d)
	require.NoError(t, err)
	return path
}

func buildIndex(t *testing.T, e *Engine, req engine.BuildRequest) {
	t.Helper()
	status, err := e.Build(t.Context(), req)
	require.NoError(t, err)
	require.True(t, status.Success(), status.Stderr)
}

func bruteForce(t *testing.T, dataPath string, metric engine.Metric, query []float32, k int) []uint64 {
	t.Helper()
	f, err := dataset.Open(dataPath)
	require.NoError(t, err)
	defer f.Close()

	vecs, err := f.Vectors()
	require.NoError(t, err)

	dim := f.Dimension()
	q := prepareQuery(metric, query)
	dist := distanceFor(metric)
	nodes := make([]distNode, f.Points())
	for i := range nodes {
		v := vecs[i*dim : (i+1)*dim]
		if metric == engine.Cosine {
			normalize(v)
		}
		nodes[i] = distNode{id: uint32(i), dist: dist(q, v)}
	}
	slices.SortFunc(nodes, compareDistNodes)

	ids := make([]uint64, k)
	for i := range ids {
		ids[i] = uint64(nodes[i].id)
	}
	return ids
}

func assertResults(t *testing.T, res []engine.Neighbor, k, n int) {
	t.Helper()
	require.Len(t, res, k)
	seen := map[uint64]bool{}
	for i, r := range res {
		assert.Less(t, r.ID, uint64(n))
		assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, res[i-1].Distance, r.Distance)
		}
	}
}

func recall(got []engine.Neighbor, want []uint64) float64 {
	hits := 0
	for _, g := range got {
		if slices.Contains(want, g.ID) {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

func TestEngine_EndToEnd(t *testing.T) {
	for _, variant := range []namespace.Variant{namespace.DiskResident, namespace.InMemory} {
		t.Run(variant.String(), func(t *testing.T) {
			dataPath := generate(t, 100, 8)
			prefix := filepath.Join(filepath.Dir(dataPath), "query_raw_index")

			e := New(variant)
			buildIndex(t, e, buildRequest(dataPath, prefix))

			sentinel := prefix + variant.SentinelSuffix()
			_, err := os.Stat(sentinel)
			require.NoError(t, err)

			s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Metric: engine.L2, Threads: 4})
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, 8, s.Dimension())
			assert.Equal(t, 100, s.Points())

			query := []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
			var stats engine.QueryStats
			res, err := s.Search(t.Context(), engine.SearchRequest{
				Query: query, K: 5, L: 50, BeamWidth: 4, UseReorderData: true, Stats: &stats,
			})
			require.NoError(t, err)
			assertResults(t, res, 5, 100)
			for _, r := range res {
				assert.GreaterOrEqual(t, r.Distance, float32(0))
			}
			assert.Positive(t, stats.NodesVisited)

			want := bruteForce(t, dataPath, engine.L2, query, 5)
			assert.GreaterOrEqual(t, recall(res, want), 0.8)

			again, err := s.Search(t.Context(), engine.SearchRequest{
				Query: query, K: 5, L: 50, BeamWidth: 4, UseReorderData: true,
			})
			require.NoError(t, err)
			assert.Equal(t, res, again)
		})
	}
}

func TestEngine_DiskArtifacts(t *testing.T) {
	dataPath := generate(t, 100, 8)
	prefix := filepath.Join(filepath.Dir(dataPath), "ingest_raw_index")
	buildIndex(t, New(namespace.DiskResident), buildRequest(dataPath, prefix))

	for _, suffix := range []string{namespace.SuffixDiskIndex, namespace.SuffixPQPivots, namespace.SuffixPQCompressed} {
		_, err := os.Stat(prefix + suffix)
		assert.NoError(t, err, suffix)
	}

	meta, err := engine.ReadDiskIndexMetaFile(prefix + namespace.SuffixDiskIndex)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), meta.Points)
	assert.Equal(t, uint64(8), meta.Dimension)
	assert.Less(t, meta.Medoid, uint64(100))

	info, err := os.Stat(prefix + namespace.SuffixDiskIndex)
	require.NoError(t, err)
	assert.Equal(t, uint64(info.Size()), meta.FileSize)
	assert.Zero(t, info.Size()%engine.SectorLen)

	codes, err := dataset.ReadBinFile[uint8](prefix + namespace.SuffixPQCompressed)
	require.NoError(t, err)
	assert.Equal(t, 100, codes.Rows)
	assert.Equal(t, 8, codes.Cols)
}

func TestEngine_Reproducible(t *testing.T) {
	dataPath := generate(t, 200, 12)
	dir := filepath.Dir(dataPath)

	a := filepath.Join(dir, "a_index")
	b := filepath.Join(dir, "b_index")
	buildIndex(t, New(namespace.DiskResident, WithSeed(7)), buildRequest(dataPath, a))
	buildIndex(t, New(namespace.DiskResident, WithSeed(7)), buildRequest(dataPath, b))

	for _, suffix := range []string{namespace.SuffixDiskIndex, namespace.SuffixPQPivots, namespace.SuffixPQCompressed} {
		x, err := os.ReadFile(a + suffix)
		require.NoError(t, err)
		y, err := os.ReadFile(b + suffix)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(x, y), suffix)
	}
}

func TestEngine_Metrics(t *testing.T) {
	for _, metric := range []engine.Metric{engine.MIPS, engine.Cosine} {
		t.Run(string(metric), func(t *testing.T) {
			dataPath := generate(t, 150, 6)
			prefix := filepath.Join(filepath.Dir(dataPath), "idx")

			req := buildRequest(dataPath, prefix)
			req.Metric = metric
			e := New(namespace.InMemory)
			buildIndex(t, e, req)

			s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Metric: metric, Threads: 1})
			require.NoError(t, err)
			defer s.Close()

			query := []float32{0.9, 0.1, 0.4, 0.7, 0.3, 0.2}
			res, err := s.Search(t.Context(), engine.SearchRequest{Query: query, K: 10, L: 60})
			require.NoError(t, err)
			assertResults(t, res, 10, 150)
			if metric == engine.Cosine {
				assert.GreaterOrEqual(t, recall(res, bruteForce(t, dataPath, metric, query, 10)), 0.8)
			}
		})
	}
}

func TestEngine_LargeRecordsSpanSectors(t *testing.T) {
	// 1100 floats per vector exceed one sector.
	dataPath := generate(t, 20, 1100)
	prefix := filepath.Join(filepath.Dir(dataPath), "wide")

	req := buildRequest(dataPath, prefix)
	req.R = 8
	e := New(namespace.DiskResident)
	buildIndex(t, e, req)

	s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Threads: 1})
	require.NoError(t, err)
	defer s.Close()

	query := make([]float32, 1100)
	res, err := s.Search(t.Context(), engine.SearchRequest{Query: query, K: 20, BeamWidth: 2})
	require.NoError(t, err)
	assertResults(t, res, 20, 20)
}

func TestEngine_ExactlyKWhenGraphIsSmall(t *testing.T) {
	dataPath := generate(t, 3, 4)
	prefix := filepath.Join(filepath.Dir(dataPath), "tiny")

	e := New(namespace.DiskResident)
	buildIndex(t, e, buildRequest(dataPath, prefix))

	s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Threads: 1})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Search(t.Context(), engine.SearchRequest{Query: []float32{0, 0, 0, 0}, K: 3})
	require.NoError(t, err)
	assertResults(t, res, 3, 3)
}

func TestEngine_SearchValidation(t *testing.T) {
	dataPath := generate(t, 50, 8)
	prefix := filepath.Join(filepath.Dir(dataPath), "idx")
	e := New(namespace.DiskResident)
	buildIndex(t, e, buildRequest(dataPath, prefix))

	s, err := e.Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix, Threads: 1})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Search(t.Context(), engine.SearchRequest{Query: make([]float32, 3), K: 5})
	var dm *adadisk.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 8, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	_, err = s.Search(t.Context(), engine.SearchRequest{Query: make([]float32, 8), K: 0})
	assert.ErrorIs(t, err, adadisk.ErrInvalidK)

	_, err = s.Search(t.Context(), engine.SearchRequest{Query: make([]float32, 8), K: 51})
	assert.ErrorIs(t, err, adadisk.ErrInvalidK)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = s.Search(ctx, engine.SearchRequest{Query: make([]float32, 8), K: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_BuildRejections(t *testing.T) {
	dataPath := generate(t, 100, 8)
	prefix := filepath.Join(filepath.Dir(dataPath), "idx")
	e := New(namespace.DiskResident)

	t.Run("invalid parameters", func(t *testing.T) {
		req := buildRequest(dataPath, prefix)
		req.R = 0
		_, err := e.Build(t.Context(), req)
		assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)
	})

	t.Run("budget", func(t *testing.T) {
		req := buildRequest(dataPath, prefix)
		req.M = 1e-9
		_, err := e.Build(t.Context(), req)
		assert.ErrorIs(t, err, adadisk.ErrBudgetExceeded)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := e.Build(ctx, buildRequest(dataPath, prefix))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing dataset", func(t *testing.T) {
		req := buildRequest(filepath.Join(t.TempDir(), "absent.bin"), prefix)
		status, err := e.Build(t.Context(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, status.Code)
		assert.NotEmpty(t, status.Stderr)
	})

	_, err := os.Stat(prefix + namespace.SuffixDiskIndex)
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_LoadFailures(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "idx")

	_, err := New(namespace.DiskResident).Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix})
	assert.ErrorIs(t, err, adadisk.ErrLoadFailure)

	_, err = New(namespace.InMemory).Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix})
	assert.ErrorIs(t, err, adadisk.ErrLoadFailure)

	// A sentinel without its companions is not loadable.
	dataPath := generate(t, 30, 4)
	prefix = filepath.Join(filepath.Dir(dataPath), "partial")
	buildIndex(t, New(namespace.DiskResident), buildRequest(dataPath, prefix))
	require.NoError(t, os.Remove(prefix+namespace.SuffixPQCompressed))

	_, err = New(namespace.DiskResident).Load(t.Context(), engine.LoadRequest{IndexPrefix: prefix})
	assert.ErrorIs(t, err, adadisk.ErrLoadFailure)
}

func TestEngine_Name(t *testing.T) {
	assert.Equal(t, "vamana-disk", New(namespace.DiskResident).Name())
	assert.Equal(t, "vamana-memory", New(namespace.InMemory).Name())
}
