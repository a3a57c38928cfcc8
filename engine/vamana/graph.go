package vamana

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

// graph is a Vamana proximity graph over row-major vectors.
type graph struct {
	n       int
	dim     int
	vectors []float32
	dist    distFunc
	adj     [][]uint32
	medoid  uint32
}

func (g *graph) vec(id uint32) []float32 {
	return g.vectors[int(id)*g.dim : (int(id)+1)*g.dim]
}

// buildGraph constructs the graph with greedy search and robust pruning,
// inserting points in a seeded random order.
func buildGraph(ctx context.Context, vectors []float32, n, dim, R, L int, alpha float32, dist distFunc, seed int64) (*graph, error) {
	g := &graph{
		n:       n,
		dim:     dim,
		vectors: vectors,
		dist:    dist,
		adj:     make([][]uint32, n),
	}

	rng := rand.New(rand.NewSource(seed))

	// Random initial edges keep the graph navigable before the first pass.
	initDeg := min(R/2, n-1)
	for i := 0; i < n; i++ {
		edges := make([]uint32, 0, R)
		for len(edges) < initDeg {
			j := uint32(rng.Intn(n))
			if j != uint32(i) && !slices.Contains(edges, j) {
				edges = append(edges, j)
			}
		}
		g.adj[i] = edges
	}

	g.medoid = g.selectMedoid()

	visited := roaring.New()
	for step, i := range rng.Perm(n) {
		if step%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := uint32(i)

		cands, _ := g.greedySearch(g.vec(id), L, visited)
		for _, nb := range g.adj[id] {
			cands = append(cands, distNode{id: nb, dist: g.dist(g.vec(nb), g.vec(id))})
		}

		g.adj[id] = g.robustPrune(id, cands, R, alpha)
		for _, nb := range g.adj[id] {
			g.addEdge(nb, id, R, alpha)
		}
	}

	return g, nil
}

// selectMedoid returns the point nearest to the centroid.
func (g *graph) selectMedoid() uint32 {
	centroid := make([]float32, g.dim)
	for i := 0; i < g.n; i++ {
		for j, v := range g.vec(uint32(i)) {
			centroid[j] += v
		}
	}
	for j := range centroid {
		centroid[j] /= float32(g.n)
	}

	best, bestDist := uint32(0), float32(math.MaxFloat32)
	for i := 0; i < g.n; i++ {
		if d := squaredL2(centroid, g.vec(uint32(i))); d < bestDist {
			best, bestDist = uint32(i), d
		}
	}
	return best
}

// greedySearch runs a best-first search from the medoid and returns the L
// closest nodes found, sorted by distance, and the number of nodes visited.
func (g *graph) greedySearch(query []float32, L int, visited *roaring.Bitmap) ([]distNode, int) {
	visited.Clear()

	frontier := &distHeap{}
	best := make([]distNode, 0, L+1)

	visit := func(id uint32) {
		if !visited.CheckedAdd(id) {
			return
		}
		d := g.dist(query, g.vec(id))
		if len(best) == L && d >= best[L-1].dist {
			return
		}
		best = insertSorted(best, distNode{id: id, dist: d}, L)
		heap.Push(frontier, distNode{id: id, dist: d})
	}

	visit(g.medoid)
	for frontier.Len() > 0 {
		curr := heap.Pop(frontier).(distNode)
		if len(best) == L && curr.dist > best[L-1].dist {
			break
		}
		for _, nb := range g.adj[curr.id] {
			visit(nb)
		}
	}

	return best, int(visited.GetCardinality())
}

// robustPrune selects at most R diverse neighbors for node from candidates.
// A candidate is dropped if an already selected neighbor s satisfies
// alpha*d(c, s) < d(c, node).
func (g *graph) robustPrune(node uint32, cands []distNode, R int, alpha float32) []uint32 {
	slices.SortFunc(cands, compareDistNodes)

	selected := make([]uint32, 0, R)
	for _, c := range cands {
		if len(selected) >= R {
			break
		}
		if c.id == node || slices.Contains(selected, c.id) {
			continue
		}

		diverse := true
		for _, s := range selected {
			if alpha*g.dist(g.vec(c.id), g.vec(s)) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c.id)
		}
	}
	return selected
}

// addEdge adds src->dst, re-pruning src if it exceeds R.
func (g *graph) addEdge(src, dst uint32, R int, alpha float32) {
	if slices.Contains(g.adj[src], dst) {
		return
	}
	if len(g.adj[src]) < R {
		g.adj[src] = append(g.adj[src], dst)
		return
	}

	cands := make([]distNode, 0, len(g.adj[src])+1)
	for _, nb := range append(g.adj[src], dst) {
		cands = append(cands, distNode{id: nb, dist: g.dist(g.vec(nb), g.vec(src))})
	}
	g.adj[src] = g.robustPrune(src, cands, R, alpha)
}

// maxDegree returns the largest out-degree in the graph.
func (g *graph) maxDegree() int {
	deg := 0
	for _, nbrs := range g.adj {
		deg = max(deg, len(nbrs))
	}
	return deg
}

// distNode is a node with distance for heap operations.
type distNode struct {
	id   uint32
	dist float32
}

func compareDistNodes(a, b distNode) int {
	switch {
	case a.dist < b.dist:
		return -1
	case a.dist > b.dist:
		return 1
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

// insertSorted inserts n into the ascending list, keeping at most limit entries.
func insertSorted(list []distNode, n distNode, limit int) []distNode {
	pos, _ := slices.BinarySearchFunc(list, n, compareDistNodes)
	if pos >= limit {
		return list
	}
	list = slices.Insert(list, pos, n)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// distHeap is a min-heap of distNodes.
type distHeap []distNode

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *distHeap) Push(x any) {
	*h = append(*h, x.(distNode))
}

func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
