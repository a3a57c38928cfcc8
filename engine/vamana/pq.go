package vamana

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/internal/fs"
)

const (
	maxCentroids   = 256 // codes are uint8
	kmeansIters    = 20
	maxTrainPoints = 100000
)

// productQuantizer splits vectors into contiguous chunks and encodes each chunk
// as the index of its nearest centroid. Chunks may have unequal widths, so any
// chunk count up to the dimension works.
type productQuantizer struct {
	dim     int
	k       int
	offsets []int     // chunk boundaries, len = chunks+1
	pivots  []float32 // k rows of dim floats; chunk m of centroid c is pivots[c*dim+offsets[m] : c*dim+offsets[m+1]]
}

// chunksForBudget sizes PQ codes from the search memory budget in GB.
func chunksForBudget(budgetGB float64, points, dim int) int {
	chunks := int(math.Floor(budgetGB * (1 << 30) / float64(points)))
	return max(1, min(chunks, dim))
}

func chunkOffsets(dim, chunks int) []int {
	offsets := make([]int, chunks+1)
	base, extra := dim/chunks, dim%chunks
	for m := 0; m < chunks; m++ {
		width := base
		if m < extra {
			width++
		}
		offsets[m+1] = offsets[m] + width
	}
	return offsets
}

func (pq *productQuantizer) chunks() int { return len(pq.offsets) - 1 }

func (pq *productQuantizer) centroid(c, m int) []float32 {
	row := pq.pivots[c*pq.dim : (c+1)*pq.dim]
	return row[pq.offsets[m]:pq.offsets[m+1]]
}

// trainPQ trains one codebook per chunk with k-means++ and Lloyd iterations.
// Chunks are trained concurrently on up to threads workers.
func trainPQ(ctx context.Context, vectors []float32, n, dim, chunks int, seed int64, threads int) (*productQuantizer, error) {
	pq := &productQuantizer{
		dim:     dim,
		k:       min(maxCentroids, n),
		offsets: chunkOffsets(dim, chunks),
	}
	pq.pivots = make([]float32, pq.k*dim)

	sample := trainingSample(n, seed)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, threads))
	for m := 0; m < chunks; m++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lo, hi := pq.offsets[m], pq.offsets[m+1]
			width := hi - lo

			sub := make([]float32, len(sample)*width)
			for i, id := range sample {
				copy(sub[i*width:(i+1)*width], vectors[id*dim+lo:id*dim+hi])
			}

			rng := rand.New(rand.NewSource(seed + int64(m)))
			centroids := kmeans(rng, sub, len(sample), width, pq.k, kmeansIters)
			for c := 0; c < pq.k; c++ {
				copy(pq.pivots[c*dim+lo:c*dim+hi], centroids[c*width:(c+1)*width])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pq, nil
}

func trainingSample(n int, seed int64) []int {
	if n <= maxTrainPoints {
		ids := make([]int, n)
		for i := range ids {
			ids[i] = i
		}
		return ids
	}
	return rand.New(rand.NewSource(seed)).Perm(n)[:maxTrainPoints]
}

// kmeans clusters n points of the given width into k centroids (flat, row-major).
func kmeans(rng *rand.Rand, points []float32, n, width, k, iters int) []float32 {
	centroids := make([]float32, k*width)
	point := func(i int) []float32 { return points[i*width : (i+1)*width] }
	cent := func(c int) []float32 { return centroids[c*width : (c+1)*width] }

	if n <= k {
		for c := 0; c < k; c++ {
			copy(cent(c), point(c%n))
		}
		return centroids
	}

	// k-means++ seeding
	copy(cent(0), point(rng.Intn(n)))
	minDist := make([]float32, n)
	var sum float32
	for i := range minDist {
		minDist[i] = squaredL2(point(i), cent(0))
		sum += minDist[i]
	}
	for c := 1; c < k; c++ {
		chosen := rng.Intn(n)
		if sum > 0 {
			target := rng.Float32() * sum
			var cum float32
			for i, d := range minDist {
				cum += d
				if cum >= target {
					chosen = i
					break
				}
			}
		}
		copy(cent(c), point(chosen))

		sum = 0
		for i := range minDist {
			if d := squaredL2(point(i), cent(c)); d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, k)
	acc := make([]float32, k*width)
	for range iters {
		changed := false
		for i := 0; i < n; i++ {
			if c := nearest(point(i), centroids, width); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		clear(counts)
		clear(acc)
		for i := 0; i < n; i++ {
			c := assign[i]
			counts[c]++
			row := acc[c*width : (c+1)*width]
			for j, v := range point(i) {
				row[j] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			inv := 1 / float32(counts[c])
			for j := range width {
				centroids[c*width+j] = acc[c*width+j] * inv
			}
		}
	}
	return centroids
}

func nearest(v, centroids []float32, width int) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for c := 0; c*width < len(centroids); c++ {
		if d := squaredL2(v, centroids[c*width:(c+1)*width]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// encode writes the chunk codes of vec into dst.
func (pq *productQuantizer) encode(vec []float32, dst []byte) {
	for m := 0; m < pq.chunks(); m++ {
		sub := vec[pq.offsets[m]:pq.offsets[m+1]]
		best, bestDist := 0, float32(math.MaxFloat32)
		for c := 0; c < pq.k; c++ {
			if d := squaredL2(sub, pq.centroid(c, m)); d < bestDist {
				best, bestDist = c, d
			}
		}
		dst[m] = uint8(best)
	}
}

// encodeAll encodes n vectors on up to threads workers.
func (pq *productQuantizer) encodeAll(ctx context.Context, vectors []float32, n, threads int) ([]byte, error) {
	chunks := pq.chunks()
	codes := make([]byte, n*chunks)

	workers := max(1, threads)
	per := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*per, min(n, (w+1)*per)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				pq.encode(vectors[i*pq.dim:(i+1)*pq.dim], codes[i*chunks:(i+1)*chunks])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

// distanceTable precomputes query-to-centroid distances per chunk: table[m*k+c].
func (pq *productQuantizer) distanceTable(m engine.Metric, query []float32) []float32 {
	dist := distanceFor(m)
	table := make([]float32, pq.chunks()*pq.k)
	for j := 0; j < pq.chunks(); j++ {
		sub := query[pq.offsets[j]:pq.offsets[j+1]]
		for c := 0; c < pq.k; c++ {
			table[j*pq.k+c] = dist(sub, pq.centroid(c, j))
		}
	}
	return table
}

// adc sums the table entries selected by codes.
func (pq *productQuantizer) adc(table []float32, codes []byte) float32 {
	var sum float32
	for j, c := range codes {
		sum += table[j*pq.k+int(c)]
	}
	return sum
}

// writePivots stores the codebook as a k x dim float matrix followed by the chunk offsets.
func (pq *productQuantizer) writePivots(fsys fs.FileSystem, path string) error {
	offsets := make([]uint32, len(pq.offsets))
	for i, o := range pq.offsets {
		offsets[i] = uint32(o)
	}
	return writeAtomic(fsys, path, func(w *bufio.Writer) error {
		if err := dataset.WriteBin(w, dataset.Matrix[float32]{Rows: pq.k, Cols: pq.dim, Data: pq.pivots}); err != nil {
			return err
		}
		return dataset.WriteBin(w, dataset.Matrix[uint32]{Rows: len(offsets), Cols: 1, Data: offsets})
	})
}

func readPivots(path string, dim int) (*productQuantizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 256*1024)
	piv, err := dataset.ReadBin[float32](r)
	if err != nil {
		return nil, err
	}
	offs, err := dataset.ReadBin[uint32](r)
	if err != nil {
		return nil, err
	}

	if piv.Cols != dim || piv.Rows <= 0 || piv.Rows > maxCentroids {
		return nil, fmt.Errorf("pq pivots have shape (%d, %d), index dimension %d", piv.Rows, piv.Cols, dim)
	}
	if offs.Rows < 2 || offs.Data[0] != 0 || int(offs.Data[offs.Rows-1]) != dim {
		return nil, fmt.Errorf("pq chunk offsets do not cover dimension %d", dim)
	}

	pq := &productQuantizer{dim: dim, k: piv.Rows, pivots: piv.Data, offsets: make([]int, offs.Rows)}
	for i, o := range offs.Data {
		pq.offsets[i] = int(o)
		if i > 0 && pq.offsets[i] <= pq.offsets[i-1] {
			return nil, fmt.Errorf("pq chunk offsets are not increasing")
		}
	}
	return pq, nil
}
