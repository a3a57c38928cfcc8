package vamana

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/resource"
	"github.com/hupe1980/adadisk/namespace"
)

const memGraphHeaderSize = 24

// writeMemGraph writes the in-memory graph file at {prefix}: a header of
// (uint64 file size, uint32 max degree, uint32 medoid, uint64 frozen points)
// followed by each node's uint32 degree and neighbor ids. It is the sentinel
// of the in-memory variant and is written last.
func writeMemGraph(fsys fs.FileSystem, path string, g *graph) error {
	size := int64(memGraphHeaderSize)
	for _, nbrs := range g.adj {
		size += 4 + 4*int64(len(nbrs))
	}

	return writeAtomic(fsys, path, func(w *bufio.Writer) error {
		var hdr [memGraphHeaderSize]byte
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(size))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(g.maxDegree()))
		binary.LittleEndian.PutUint32(hdr[12:16], g.medoid)
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}

		var word [4]byte
		for _, nbrs := range g.adj {
			binary.LittleEndian.PutUint32(word[:], uint32(len(nbrs)))
			if _, err := w.Write(word[:]); err != nil {
				return err
			}
			for _, nb := range nbrs {
				binary.LittleEndian.PutUint32(word[:], nb)
				if _, err := w.Write(word[:]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func readMemGraph(path string, vectors []float32, n, dim int, dist distFunc) (*graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 256*1024)
	var hdr [memGraphHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read graph header: %w", err)
	}
	maxDeg := int(binary.LittleEndian.Uint32(hdr[8:12]))
	medoid := binary.LittleEndian.Uint32(hdr[12:16])
	if int(medoid) >= n {
		return nil, fmt.Errorf("medoid %d out of range", medoid)
	}

	g := &graph{n: n, dim: dim, vectors: vectors, dist: dist, adj: make([][]uint32, n), medoid: medoid}
	var word [4]byte
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, word[:]); err != nil {
			return nil, fmt.Errorf("read degree of node %d: %w", i, err)
		}
		deg := int(binary.LittleEndian.Uint32(word[:]))
		if deg > maxDeg {
			return nil, fmt.Errorf("node %d has degree %d, max %d", i, deg, maxDeg)
		}
		nbrs := make([]uint32, deg)
		for j := range nbrs {
			if _, err := io.ReadFull(r, word[:]); err != nil {
				return nil, fmt.Errorf("read neighbors of node %d: %w", i, err)
			}
			nbrs[j] = binary.LittleEndian.Uint32(word[:])
			if int(nbrs[j]) >= n {
				return nil, fmt.Errorf("node %d links to %d, out of range", i, nbrs[j])
			}
		}
		g.adj[i] = nbrs
	}
	return g, nil
}

// memorySearcher serves queries from a graph and full-precision vectors held in memory.
type memorySearcher struct {
	metric engine.Metric
	g      *graph
	slots  *resource.Controller
}

func loadMemoryIndex(prefix string, metric engine.Metric, threads int) (*memorySearcher, error) {
	data, err := dataset.ReadBinFile[float32](namespace.Artifact(prefix, namespace.SuffixMemData))
	if err != nil {
		return nil, err
	}
	if data.Rows == 0 || data.Cols == 0 {
		return nil, fmt.Errorf("index data has empty shape (%d, %d)", data.Rows, data.Cols)
	}

	g, err := readMemGraph(prefix, data.Data, data.Rows, data.Cols, distanceFor(metric))
	if err != nil {
		return nil, err
	}

	return &memorySearcher{
		metric: metric,
		g:      g,
		slots:  resource.NewController(resource.Config{MaxWorkers: int64(max(1, threads))}),
	}, nil
}

func (s *memorySearcher) Dimension() int { return s.g.dim }
func (s *memorySearcher) Points() int    { return s.g.n }
func (s *memorySearcher) Close() error   { return nil }

func (s *memorySearcher) Search(ctx context.Context, req engine.SearchRequest) ([]engine.Neighbor, error) {
	start := time.Now()
	if err := engine.ValidateSearch(&req, s.Dimension(), s.Points()); err != nil {
		return nil, err
	}
	if err := s.slots.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer s.slots.ReleaseWorker()

	query := prepareQuery(s.metric, req.Query)
	visited := roaring.New()
	best, nvisited := s.g.greedySearch(query, req.L, visited)

	for id := uint32(0); int(id) < s.g.n && len(best) < req.K; id++ {
		if visited.Contains(id) {
			continue
		}
		best = insertSorted(best, distNode{id: id, dist: s.g.dist(query, s.g.vec(id))}, req.L)
	}

	out := make([]engine.Neighbor, req.K)
	for i := range out {
		out[i] = engine.Neighbor{ID: uint64(best[i].id), Distance: best[i].dist}
	}

	if req.Stats != nil {
		*req.Stats = engine.QueryStats{
			NodesVisited:  nvisited,
			DistanceComps: nvisited,
			Latency:       time.Since(start),
		}
	}
	return out, nil
}
