package vamana

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/mmap"
	"github.com/hupe1980/adadisk/internal/resource"
	"github.com/hupe1980/adadisk/namespace"
)

// sectorLayout locates node records inside a disk index.
//
// A node record is dim float32 values, a uint32 neighbor count and maxDegree
// uint32 neighbor slots. Records never straddle sectors: small records are
// packed nodesPerSector to a sector, large records take sectorsPerNode sectors.
type sectorLayout struct {
	dim            int
	maxDegree      int
	maxNodeLen     int
	nodesPerSector int
	sectorsPerNode int
}

func newSectorLayout(dim, maxDegree int) sectorLayout {
	l := sectorLayout{dim: dim, maxDegree: maxDegree}
	l.maxNodeLen = 4*dim + 4 + 4*maxDegree
	l.nodesPerSector = engine.SectorLen / l.maxNodeLen
	if l.nodesPerSector == 0 {
		l.sectorsPerNode = (l.maxNodeLen + engine.SectorLen - 1) / engine.SectorLen
	}
	return l
}

func layoutFromMeta(m engine.DiskIndexMeta) (sectorLayout, error) {
	dim := int(m.Dimension)
	rest := int(m.MaxNodeLen) - 4*dim - 4
	if rest < 0 || rest%4 != 0 {
		return sectorLayout{}, fmt.Errorf("disk index node length %d does not fit dimension %d", m.MaxNodeLen, dim)
	}
	l := newSectorLayout(dim, rest/4)
	if uint64(l.nodesPerSector) != m.NodesPerSector {
		return sectorLayout{}, fmt.Errorf("disk index declares %d nodes per sector, layout implies %d", m.NodesPerSector, l.nodesPerSector)
	}
	return l, nil
}

func (l sectorLayout) sectors(n int) int {
	if l.nodesPerSector > 0 {
		return (n + l.nodesPerSector - 1) / l.nodesPerSector
	}
	return n * l.sectorsPerNode
}

func (l sectorLayout) fileSize(n int) int64 {
	return int64(engine.SectorLen) * int64(1+l.sectors(n))
}

func (l sectorLayout) offset(id uint32) int64 {
	if l.nodesPerSector > 0 {
		sector := 1 + int64(id)/int64(l.nodesPerSector)
		return sector*engine.SectorLen + int64(int(id)%l.nodesPerSector)*int64(l.maxNodeLen)
	}
	return (1 + int64(id)*int64(l.sectorsPerNode)) * engine.SectorLen
}

func (l sectorLayout) sectorsPerRead() int {
	return max(1, l.sectorsPerNode)
}

func (l sectorLayout) encodeNode(dst []byte, vec []float32, nbrs []uint32) {
	clear(dst[:l.maxNodeLen])
	for j, v := range vec {
		binary.LittleEndian.PutUint32(dst[4*j:], math.Float32bits(v))
	}
	off := 4 * l.dim
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(nbrs)))
	for j, nb := range nbrs {
		binary.LittleEndian.PutUint32(dst[off+4+4*j:], nb)
	}
}

// decodeNode decodes a record; vec must have room for dim values.
func (l sectorLayout) decodeNode(src []byte, vec []float32, nbrs []uint32) ([]uint32, error) {
	for j := range vec {
		vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*j:]))
	}
	off := 4 * l.dim
	cnt := int(binary.LittleEndian.Uint32(src[off:]))
	if cnt > l.maxDegree {
		return nil, fmt.Errorf("node declares %d neighbors, max degree %d", cnt, l.maxDegree)
	}
	nbrs = nbrs[:0]
	for j := 0; j < cnt; j++ {
		nbrs = append(nbrs, binary.LittleEndian.Uint32(src[off+4+4*j:]))
	}
	return nbrs, nil
}

// writeDiskIndex writes {prefix}_disk.index. It is the sentinel and is written last.
func writeDiskIndex(fsys fs.FileSystem, path string, g *graph, maxDegree int) error {
	l := newSectorLayout(g.dim, maxDegree)
	meta := engine.DiskIndexMeta{
		Points:         uint64(g.n),
		Dimension:      uint64(g.dim),
		Medoid:         uint64(g.medoid),
		MaxNodeLen:     uint64(l.maxNodeLen),
		NodesPerSector: uint64(l.nodesPerSector),
		FileSize:       uint64(l.fileSize(g.n)),
	}

	return writeAtomic(fsys, path, func(w *bufio.Writer) error {
		if _, err := meta.WriteTo(w); err != nil {
			return err
		}

		sector := make([]byte, engine.SectorLen*l.sectorsPerRead())
		if l.nodesPerSector == 0 {
			for id := 0; id < g.n; id++ {
				l.encodeNode(sector, g.vec(uint32(id)), g.adj[id])
				if _, err := w.Write(sector); err != nil {
					return err
				}
			}
			return nil
		}

		for first := 0; first < g.n; first += l.nodesPerSector {
			clear(sector)
			for slot := 0; slot < l.nodesPerSector && first+slot < g.n; slot++ {
				id := first + slot
				l.encodeNode(sector[slot*l.maxNodeLen:], g.vec(uint32(id)), g.adj[id])
			}
			if _, err := w.Write(sector); err != nil {
				return err
			}
		}
		return nil
	})
}

// diskSearcher serves queries from a mapped disk index and in-memory PQ codes.
type diskSearcher struct {
	metric engine.Metric
	dist   distFunc
	meta   engine.DiskIndexMeta
	layout sectorLayout
	file   *mmap.Mapping
	pq     *productQuantizer
	codes  []byte
	slots  *resource.Controller
}

func loadDiskIndex(prefix string, metric engine.Metric, threads int) (*diskSearcher, error) {
	indexPath := namespace.Artifact(prefix, namespace.SuffixDiskIndex)

	meta, err := engine.ReadDiskIndexMetaFile(indexPath)
	if err != nil {
		return nil, err
	}
	layout, err := layoutFromMeta(meta)
	if err != nil {
		return nil, err
	}
	n, dim := int(meta.Points), int(meta.Dimension)

	pq, err := readPivots(namespace.Artifact(prefix, namespace.SuffixPQPivots), dim)
	if err != nil {
		return nil, err
	}
	codes, err := dataset.ReadBinFile[uint8](namespace.Artifact(prefix, namespace.SuffixPQCompressed))
	if err != nil {
		return nil, err
	}
	if codes.Rows != n || codes.Cols != pq.chunks() {
		return nil, fmt.Errorf("pq codes have shape (%d, %d), want (%d, %d)", codes.Rows, codes.Cols, n, pq.chunks())
	}
	if meta.Medoid >= meta.Points {
		return nil, fmt.Errorf("medoid %d out of range", meta.Medoid)
	}

	m, err := mmap.Open(indexPath)
	if err != nil {
		return nil, err
	}
	if int64(m.Size()) < layout.fileSize(n) {
		m.Close()
		return nil, fmt.Errorf("disk index is %d bytes, layout needs %d", m.Size(), layout.fileSize(n))
	}
	_ = m.Advise(mmap.AccessRandom)

	return &diskSearcher{
		metric: metric,
		dist:   distanceFor(metric),
		meta:   meta,
		layout: layout,
		file:   m,
		pq:     pq,
		codes:  codes.Data,
		slots:  resource.NewController(resource.Config{MaxWorkers: int64(max(1, threads))}),
	}, nil
}

func (s *diskSearcher) Dimension() int { return int(s.meta.Dimension) }
func (s *diskSearcher) Points() int    { return int(s.meta.Points) }

func (s *diskSearcher) Close() error { return s.file.Close() }

// readNode reads one node record with a single aligned read.
func (s *diskSearcher) readNode(id uint32, buf []byte, vec []float32, nbrs []uint32) ([]uint32, error) {
	rec := buf[:s.layout.maxNodeLen]
	if _, err := s.file.ReadAt(rec, s.layout.offset(id)); err != nil {
		return nil, fmt.Errorf("read node %d: %w", id, err)
	}
	return s.layout.decodeNode(rec, vec, nbrs)
}

type beamEntry struct {
	distNode
	expanded bool
}

// Search runs a beam search: each hop expands up to BeamWidth of the closest
// unexpanded candidates, reading their records from disk, scoring the
// expanded nodes exactly and their neighbors by PQ distance.
func (s *diskSearcher) Search(ctx context.Context, req engine.SearchRequest) ([]engine.Neighbor, error) {
	start := time.Now()
	if err := engine.ValidateSearch(&req, s.Dimension(), s.Points()); err != nil {
		return nil, err
	}
	if err := s.slots.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer s.slots.ReleaseWorker()

	query := prepareQuery(s.metric, req.Query)
	table := s.pq.distanceTable(s.metric, query)
	chunks := s.pq.chunks()
	pqDist := func(id uint32) float32 {
		return s.pq.adc(table, s.codes[int(id)*chunks:(int(id)+1)*chunks])
	}

	var stats engine.QueryStats
	visited := roaring.New()
	retset := make([]beamEntry, 0, req.L+1)
	insert := func(id uint32) {
		if !visited.CheckedAdd(id) {
			return
		}
		stats.DistanceComps++
		e := beamEntry{distNode: distNode{id: id, dist: pqDist(id)}}
		pos, _ := slices.BinarySearchFunc(retset, e, func(a, b beamEntry) int {
			return compareDistNodes(a.distNode, b.distNode)
		})
		if pos >= req.L {
			return
		}
		retset = slices.Insert(retset, pos, e)
		if len(retset) > req.L {
			retset = retset[:req.L]
		}
	}

	buf := make([]byte, engine.SectorLen*s.layout.sectorsPerRead())
	vec := make([]float32, s.Dimension())
	nbrs := make([]uint32, 0, s.layout.maxDegree)
	full := make([]distNode, 0, req.L)
	scored := roaring.New()

	insert(uint32(s.meta.Medoid))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var beam []uint32
		for i := range retset {
			if len(beam) == req.BeamWidth {
				break
			}
			if !retset[i].expanded {
				retset[i].expanded = true
				beam = append(beam, retset[i].id)
			}
		}
		if len(beam) == 0 {
			break
		}
		stats.Hops++

		for _, id := range beam {
			var err error
			nbrs, err = s.readNode(id, buf, vec, nbrs)
			if err != nil {
				return nil, err
			}
			stats.SectorReads += s.layout.sectorsPerRead()
			stats.NodesVisited++

			full = append(full, distNode{id: id, dist: s.dist(query, vec)})
			scored.Add(id)
			for _, nb := range nbrs {
				insert(nb)
			}
		}
	}

	if req.UseReorderData {
		for _, e := range retset {
			if scored.Contains(e.id) {
				continue
			}
			if _, err := s.readNode(e.id, buf, vec, nbrs); err != nil {
				return nil, err
			}
			stats.SectorReads += s.layout.sectorsPerRead()
			full = append(full, distNode{id: e.id, dist: s.dist(query, vec)})
			scored.Add(e.id)
		}
	}

	if len(full) < req.K {
		// The reachable component is smaller than k: complete with a scan.
		for id := uint32(0); int(id) < s.Points() && len(full) < req.K; id++ {
			if scored.Contains(id) {
				continue
			}
			if _, err := s.readNode(id, buf, vec, nbrs); err != nil {
				return nil, err
			}
			full = append(full, distNode{id: id, dist: s.dist(query, vec)})
		}
	}

	slices.SortFunc(full, compareDistNodes)
	out := make([]engine.Neighbor, req.K)
	for i := range out {
		out[i] = engine.Neighbor{ID: uint64(full[i].id), Distance: full[i].dist}
	}

	if req.Stats != nil {
		stats.Latency = time.Since(start)
		*req.Stats = stats
	}
	return out, nil
}
