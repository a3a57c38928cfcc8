package vamana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/resource"
	"github.com/hupe1980/adadisk/namespace"
)

const (
	// DefaultAlpha is the robust prune slack.
	DefaultAlpha = 1.2
	// DefaultSeed seeds insertion order, initial edges and PQ training.
	DefaultSeed = 42
)

// Option configures an Engine.
type Option func(*Engine)

// WithSeed sets the build seed. Builds with equal seeds and inputs produce identical artifacts.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithAlpha sets the robust prune slack. Values below 1 are ignored.
func WithAlpha(alpha float32) Option {
	return func(e *Engine) {
		if alpha >= 1 {
			e.alpha = alpha
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *adadisk.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFileSystem sets the filesystem artifacts are written through.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(e *Engine) {
		if fsys != nil {
			e.fsys = fsys
		}
	}
}

// Engine builds and loads Vamana indexes in process.
type Engine struct {
	variant namespace.Variant
	seed    int64
	alpha   float32
	logger  *adadisk.Logger
	fsys    fs.FileSystem
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine producing indexes of the given variant.
func New(variant namespace.Variant, opts ...Option) *Engine {
	e := &Engine{
		variant: variant,
		seed:    DefaultSeed,
		alpha:   DefaultAlpha,
		logger:  adadisk.NoopLogger(),
		fsys:    fs.Default,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "vamana-" + e.variant.String() }

// Variant returns the index layout the engine produces.
func (e *Engine) Variant() namespace.Variant { return e.variant }

// buildFootprint estimates the peak working set of a build in bytes.
func buildFootprint(n, dim, R, chunks int) int64 {
	vectors := 4 * int64(n) * int64(dim)
	graph := 4 * int64(n) * int64(R+1)
	codes := int64(n) * int64(chunks)
	return vectors + graph + codes
}

// Build implements engine.Builder.
//
// Requests that cannot start (invalid parameters, a working set larger than
// M, a cancelled context) are returned as errors. Failures while building are
// reported as status 1 with the cause in Stderr.
func (e *Engine) Build(ctx context.Context, req engine.BuildRequest) (engine.BuildStatus, error) {
	if err := req.Validate(); err != nil {
		return engine.BuildStatus{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.BuildStatus{}, err
	}

	log := e.logger.With("engine", e.Name(), "prefix", req.IndexPrefix)
	start := time.Now()

	f, err := dataset.Open(req.DataPath)
	if err != nil {
		return failed(err), nil
	}
	defer f.Close()

	n, dim := f.Points(), f.Dimension()
	chunks := chunksForBudget(req.B, n, dim)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes: int64(req.M * (1 << 30)),
		MaxWorkers:       int64(req.T),
	})
	footprint := buildFootprint(n, dim, req.R, chunks)
	if err := rc.AcquireMemory(ctx, footprint); err != nil {
		return engine.BuildStatus{}, err
	}
	defer rc.ReleaseMemory(footprint)

	vectors, err := f.Vectors()
	if err != nil {
		return failed(err), nil
	}
	if req.Metric == engine.Cosine {
		for i := 0; i < n; i++ {
			normalize(vectors[i*dim : (i+1)*dim])
		}
	}

	log.DebugContext(ctx, "building graph", "points", n, "dimension", dim, "R", req.R, "L", req.L)
	g, err := buildGraph(ctx, vectors, n, dim, req.R, req.L, e.alpha, distanceFor(req.Metric), e.seed)
	if err != nil {
		return e.interrupted(ctx, err)
	}

	switch e.variant {
	case namespace.InMemory:
		err = e.writeMemory(req.IndexPrefix, g)
	default:
		err = e.writeDisk(ctx, req, g, chunks)
	}
	if err != nil {
		return e.interrupted(ctx, err)
	}

	log.DebugContext(ctx, "index written", "medoid", g.medoid, "max_degree", g.maxDegree(), "duration", time.Since(start))
	return engine.BuildStatus{}, nil
}

func (e *Engine) writeDisk(ctx context.Context, req engine.BuildRequest, g *graph, chunks int) error {
	pq, err := trainPQ(ctx, g.vectors, g.n, g.dim, chunks, e.seed, req.T)
	if err != nil {
		return err
	}
	codes, err := pq.encodeAll(ctx, g.vectors, g.n, req.T)
	if err != nil {
		return err
	}

	if err := pq.writePivots(e.fsys, namespace.Artifact(req.IndexPrefix, namespace.SuffixPQPivots)); err != nil {
		return err
	}
	compressed := dataset.Matrix[uint8]{Rows: g.n, Cols: chunks, Data: codes}
	if err := dataset.WriteBinFile(e.fsys, namespace.Artifact(req.IndexPrefix, namespace.SuffixPQCompressed), compressed); err != nil {
		return err
	}
	return writeDiskIndex(e.fsys, namespace.Artifact(req.IndexPrefix, namespace.SuffixDiskIndex), g, req.R)
}

func (e *Engine) writeMemory(prefix string, g *graph) error {
	data := dataset.Matrix[float32]{Rows: g.n, Cols: g.dim, Data: g.vectors}
	if err := dataset.WriteBinFile(e.fsys, namespace.Artifact(prefix, namespace.SuffixMemData), data); err != nil {
		return err
	}
	return writeMemGraph(e.fsys, prefix, g)
}

// interrupted reports a cancelled build as an error and anything else as a failed status.
func (e *Engine) interrupted(ctx context.Context, err error) (engine.BuildStatus, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return engine.BuildStatus{}, err
	}
	return failed(err), nil
}

func failed(err error) engine.BuildStatus {
	return engine.BuildStatus{Code: 1, Stderr: err.Error()}
}

// Load implements engine.Loader.
func (e *Engine) Load(_ context.Context, req engine.LoadRequest) (engine.Searcher, error) {
	metric, err := engine.ParseMetric(string(req.Metric))
	if err != nil {
		return nil, err
	}

	var s engine.Searcher
	switch e.variant {
	case namespace.InMemory:
		s, err = loadMemoryIndex(req.IndexPrefix, metric, req.Threads)
	default:
		s, err = loadDiskIndex(req.IndexPrefix, metric, req.Threads)
	}
	if err != nil {
		var le *adadisk.LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &adadisk.LoadError{Prefix: req.IndexPrefix, Err: err}
	}

	e.logger.Debug("index loaded", "engine", e.Name(), "prefix", req.IndexPrefix,
		"points", s.Points(), "dimension", s.Dimension())
	return s, nil
}

func (e *Engine) String() string {
	return fmt.Sprintf("%s(seed=%d, alpha=%g)", e.Name(), e.seed, e.alpha)
}
