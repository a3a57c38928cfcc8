package vamana

import (
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk/engine"
)

func TestSectorLayout(t *testing.T) {
	l := newSectorLayout(8, 32)
	assert.Equal(t, 4*8+4+4*32, l.maxNodeLen)
	assert.Equal(t, engine.SectorLen/l.maxNodeLen, l.nodesPerSector)
	assert.Equal(t, int64(engine.SectorLen), l.offset(0))
	assert.Equal(t, int64(engine.SectorLen+l.maxNodeLen), l.offset(1))
	assert.Equal(t, int64(2*engine.SectorLen), l.offset(uint32(l.nodesPerSector)))

	wide := newSectorLayout(1100, 8)
	assert.Zero(t, wide.nodesPerSector)
	assert.Equal(t, 2, wide.sectorsPerNode)
	assert.Equal(t, int64(3*engine.SectorLen), wide.offset(1))
	assert.Equal(t, int64(engine.SectorLen)*(1+2*5), wide.fileSize(5))
}

func TestSectorLayout_NodeRoundTrip(t *testing.T) {
	l := newSectorLayout(4, 6)
	buf := make([]byte, l.maxNodeLen)
	l.encodeNode(buf, []float32{1, 2, 3, 4}, []uint32{9, 7})

	vec := make([]float32, 4)
	nbrs, err := l.decodeNode(buf, vec, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, vec)
	assert.Equal(t, []uint32{9, 7}, nbrs)
}

func TestLayoutFromMeta_Rejects(t *testing.T) {
	_, err := layoutFromMeta(engine.DiskIndexMeta{Dimension: 8, MaxNodeLen: 10})
	assert.Error(t, err)

	l := newSectorLayout(8, 32)
	_, err = layoutFromMeta(engine.DiskIndexMeta{Dimension: 8, MaxNodeLen: uint64(l.maxNodeLen), NodesPerSector: 99})
	assert.Error(t, err)

	got, err := layoutFromMeta(engine.DiskIndexMeta{Dimension: 8, MaxNodeLen: uint64(l.maxNodeLen), NodesPerSector: uint64(l.nodesPerSector)})
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, 8, chunksForBudget(0.1, 100, 8))
	assert.Equal(t, 1, chunksForBudget(1e-9, 1_000_000, 128))
	assert.Equal(t, 128, chunksForBudget(1, 1000, 128))

	offsets := chunkOffsets(10, 3)
	assert.Equal(t, []int{0, 4, 7, 10}, offsets)
}

func randomVectors(n, dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, n*dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func TestBuildGraph_DegreeBound(t *testing.T) {
	const n, dim, R = 300, 6, 12
	vecs := randomVectors(n, dim, 1)

	g, err := buildGraph(t.Context(), vecs, n, dim, R, 40, DefaultAlpha, squaredL2, 3)
	require.NoError(t, err)

	assert.LessOrEqual(t, g.maxDegree(), R)
	for id, nbrs := range g.adj {
		for _, nb := range nbrs {
			assert.NotEqual(t, uint32(id), nb)
			assert.Less(t, nb, uint32(n))
		}
	}

	best, visited := g.greedySearch(g.vec(0), 40, roaring.New())
	assert.GreaterOrEqual(t, visited, len(best))
	assert.Len(t, best, 40)
	assert.IsNonDecreasing(t, distances(best))
}

func distances(nodes []distNode) []float32 {
	out := make([]float32, len(nodes))
	for i, n := range nodes {
		out[i] = n.dist
	}
	return out
}

func TestProductQuantizer_EncodeNearest(t *testing.T) {
	const n, dim = 64, 4
	vecs := randomVectors(n, dim, 2)

	pq, err := trainPQ(t.Context(), vecs, n, dim, 2, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 64, pq.k)

	// With one centroid per point the codes are exact.
	codes, err := pq.encodeAll(t.Context(), vecs, n, 3)
	require.NoError(t, err)
	table := pq.distanceTable(engine.L2, vecs[:dim])
	assert.InDelta(t, 0, pq.adc(table, codes[:2]), 1e-6)
}
