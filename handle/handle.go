// Package handle wraps a loaded index in a small state machine:
//
//	Unloaded -> Loading -> Ready -> Closed
//
// A failed load returns to Unloaded. Close during Loading waits for the load
// to finish and then closes. Every call fails with adadisk.ErrClosed once the
// handle is closed.
package handle

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/engine"
)

// State is the lifecycle state of a Handle.
type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Handle.
type Option func(*Handle)

// WithMetric sets the distance metric the index was built with.
func WithMetric(m engine.Metric) Option {
	return func(h *Handle) { h.metric = m }
}

// WithLogger sets the logger.
func WithLogger(l *adadisk.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc adadisk.MetricsCollector) Option {
	return func(h *Handle) {
		if mc != nil {
			h.metrics = mc
		}
	}
}

// Handle is a loaded, searchable index.
type Handle struct {
	loader  engine.Loader
	metric  engine.Metric
	logger  *adadisk.Logger
	metrics adadisk.MetricsCollector

	mu       sync.RWMutex
	state    State
	searcher engine.Searcher
	prefix   string
	// loading is closed when the in-flight Load returns.
	loading chan struct{}
}

// New returns an unloaded handle backed by loader.
func New(loader engine.Loader, opts ...Option) *Handle {
	h := &Handle{
		loader:  loader,
		metric:  engine.L2,
		logger:  adadisk.NoopLogger(),
		metrics: adadisk.NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Load opens the index at prefix with the given number of search threads.
// Loading an already loaded handle is an error.
func (h *Handle) Load(ctx context.Context, prefix string, threads int) error {
	h.mu.Lock()
	switch h.state {
	case Closed:
		h.mu.Unlock()
		return adadisk.ErrClosed
	case Loading, Ready:
		h.mu.Unlock()
		return fmt.Errorf("%w: index %s is already %s", adadisk.ErrInvalidArgument, h.prefix, h.state)
	}
	h.state = Loading
	done := make(chan struct{})
	h.loading = done
	h.mu.Unlock()

	start := time.Now()
	s, err := h.loader.Load(ctx, engine.LoadRequest{IndexPrefix: prefix, Metric: h.metric, Threads: threads})
	h.metrics.RecordLoad(time.Since(start), err)

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(done)
	h.loading = nil
	if err != nil {
		h.state = Unloaded
		h.logger.LogLoad(ctx, prefix, 0, err)
		return err
	}
	h.searcher = s
	h.prefix = prefix
	h.state = Ready
	h.logger.LogLoad(ctx, prefix, s.Dimension(), nil)
	return nil
}

// ready returns an error unless the handle is Ready. The caller holds mu.
func (h *Handle) ready() error {
	switch h.state {
	case Ready:
		return nil
	case Closed:
		return adadisk.ErrClosed
	default:
		return fmt.Errorf("%w: index is %s", adadisk.ErrInvalidArgument, h.state)
	}
}

// Dimension returns the index dimension.
func (h *Handle) Dimension() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.ready(); err != nil {
		return 0, err
	}
	return h.searcher.Dimension(), nil
}

// Points returns the number of indexed vectors.
func (h *Handle) Points() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.ready(); err != nil {
		return 0, err
	}
	return h.searcher.Points(), nil
}

// Search returns exactly req.K neighbors ordered by non-decreasing distance.
func (h *Handle) Search(ctx context.Context, req engine.SearchRequest) ([]engine.Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := h.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := h.search(ctx, req)
	h.metrics.RecordSearch(req.K, time.Since(start), err)
	h.logger.LogSearch(ctx, req.K, len(res), err)
	return res, err
}

func (h *Handle) search(ctx context.Context, req engine.SearchRequest) ([]engine.Neighbor, error) {
	if dim := h.searcher.Dimension(); len(req.Query) != dim {
		return nil, &adadisk.DimensionMismatchError{Expected: dim, Actual: len(req.Query)}
	}
	if req.K <= 0 || req.K > h.searcher.Points() {
		return nil, fmt.Errorf("%w: k=%d, points=%d", adadisk.ErrInvalidK, req.K, h.searcher.Points())
	}

	res, err := h.searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res) != req.K {
		return nil, fmt.Errorf("engine returned %d results, want %d", len(res), req.K)
	}
	if !slices.IsSortedFunc(res, func(a, b engine.Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	}) {
		return nil, fmt.Errorf("engine returned results out of distance order")
	}
	return res, nil
}

// Close releases the index. A load in progress is awaited first.
// Closing twice returns adadisk.ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.state == Loading {
		done := h.loading
		h.mu.Unlock()
		<-done
		h.mu.Lock()
	}
	if h.state == Closed {
		return adadisk.ErrClosed
	}
	h.state = Closed
	if h.searcher == nil {
		return nil
	}
	err := h.searcher.Close()
	h.searcher = nil
	return err
}
