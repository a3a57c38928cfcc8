// Package engine defines the contract between the coordinator and an ANN
// index engine: the build request handed to it, and the load/search surface
// consumed from it.
//
// Two implementations exist: engine/cli drives the DiskANN command line tools
// out of process, and engine/vamana builds and searches indexes in process.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/adadisk"
)

// DataType is the element type of the dataset.
type DataType string

// Float is the only supported element type: 32-bit IEEE float.
const Float DataType = "float"

// Metric is a distance function understood by the engine.
type Metric string

const (
	L2     Metric = "l2"
	MIPS   Metric = "mips"
	Cosine Metric = "cosine"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case L2, MIPS, Cosine:
		return m, nil
	case "":
		return L2, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", adadisk.ErrInvalidArgument, s)
	}
}

// BuildRequest describes one build invocation. Treat it as immutable.
type BuildRequest struct {
	DataType    DataType
	Metric      Metric
	DataPath    string
	IndexPrefix string
	// R is the maximum graph out-degree.
	R int
	// L is the build-time candidate list size.
	L int
	// B is the search memory budget in GB.
	B float64
	// M is the build memory budget in GB.
	M float64
	// T is the thread count.
	T int
}

// Validate checks the request for values the engine would reject.
func (r BuildRequest) Validate() error {
	switch {
	case r.DataType != Float:
		return fmt.Errorf("%w: unsupported data type %q", adadisk.ErrInvalidArgument, r.DataType)
	case r.DataPath == "" || r.IndexPrefix == "":
		return fmt.Errorf("%w: data path and index prefix are required", adadisk.ErrInvalidArgument)
	case r.R <= 0 || r.L <= 0:
		return fmt.Errorf("%w: R and L must be positive (R=%d, L=%d)", adadisk.ErrInvalidArgument, r.R, r.L)
	case r.B <= 0 || r.M <= 0:
		return fmt.Errorf("%w: memory budgets must be positive (B=%g, M=%g)", adadisk.ErrInvalidArgument, r.B, r.M)
	case r.T <= 0:
		return fmt.Errorf("%w: thread count must be positive (T=%d)", adadisk.ErrInvalidArgument, r.T)
	}
	if _, err := ParseMetric(string(r.Metric)); err != nil {
		return err
	}
	return nil
}

// Args renders the request as build_disk_index flags.
func (r BuildRequest) Args() []string {
	return []string{
		"--data_type", string(r.DataType),
		"--dist_fn", string(r.Metric),
		"--data_path", r.DataPath,
		"--index_path_prefix", r.IndexPrefix,
		"-R", strconv.Itoa(r.R),
		"-L", strconv.Itoa(r.L),
		"-B", strconv.FormatFloat(r.B, 'g', -1, 64),
		"-M", strconv.FormatFloat(r.M, 'g', -1, 64),
		"-T", strconv.Itoa(r.T),
	}
}

// BuildStatus is the completion status reported by an engine.
type BuildStatus struct {
	// Code is 0 on success. -1 means the engine was terminated by a signal.
	Code int
	// Stderr holds the tail of the engine's diagnostic output.
	Stderr string
}

// Success reports whether the build completed.
func (s BuildStatus) Success() bool { return s.Code == 0 }

// Builder builds an index from a dataset.
//
// The returned error is non-nil only when the engine could not be invoked at
// all (for example a missing binary). An engine that ran and failed reports it
// through a non-success BuildStatus.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (BuildStatus, error)
}

// LoadRequest identifies an index to load.
type LoadRequest struct {
	IndexPrefix string
	Metric      Metric
	Threads     int
}

// Loader loads built indexes.
type Loader interface {
	Load(ctx context.Context, req LoadRequest) (Searcher, error)
}

// Engine is the full capability: build, load and search.
type Engine interface {
	Builder
	Loader
	Name() string
}

// QueryStats collects optional per-query statistics.
type QueryStats struct {
	NodesVisited  int
	DistanceComps int
	SectorReads   int
	Hops          int
	Latency       time.Duration
}

// SearchRequest describes one k-NN query.
type SearchRequest struct {
	Query []float32
	K     int
	// L is the search candidate list size. Values below K are raised to K.
	L int
	// BeamWidth is the number of nodes expanded per hop (disk-resident only).
	BeamWidth int
	// UseReorderData re-ranks the candidate list with full-precision vectors.
	UseReorderData bool
	// Stats, if non-nil, receives query statistics.
	Stats *QueryStats
}

// Neighbor is one search result.
type Neighbor struct {
	ID       uint64
	Distance float32
}

// Searcher is a loaded index.
type Searcher interface {
	// Dimension returns the vector dimension of the index.
	Dimension() int
	// Points returns the number of indexed vectors.
	Points() int
	// Search returns up to K neighbors ordered by non-decreasing distance.
	Search(ctx context.Context, req SearchRequest) ([]Neighbor, error)
	// Close releases files and worker resources.
	Close() error
}
