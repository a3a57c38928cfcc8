package agent

import (
	"fmt"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/config"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/namespace"
	"github.com/hupe1980/adadisk/orchestrator"
)

// DefaultQueryValue is the value of every component of the default query vector.
const DefaultQueryValue = 0.5

// SearchParams configure the consumer query.
type SearchParams struct {
	K              int
	L              int
	BeamWidth      int
	Threads        int
	UseReorderData bool
}

// Spec parameterizes an Agent.
type Spec struct {
	Role      namespace.Role
	Dataset   string
	Points    int
	Dimension int
	Policy    gate.Policy
	Build     orchestrator.Params
	// Search is nil for agents that stop after the index is ready.
	Search *SearchParams
	// Query defaults to a vector of DefaultQueryValue.
	Query []float32
}

// ProducerSpec returns the ingest role: always regenerate and rebuild, never search.
func ProducerSpec(cfg *config.Config) Spec {
	return Spec{
		Role:      namespace.RoleIngest,
		Dataset:   cfg.Dataset,
		Points:    cfg.Generate.Points,
		Dimension: cfg.Generate.Dimension,
		Policy:    gate.AlwaysRebuild,
		Build:     cfg.Params(),
	}
}

// ConsumerSpec returns the query role: reuse what exists, build what is missing, then search.
func ConsumerSpec(cfg *config.Config) Spec {
	return Spec{
		Role:      namespace.RoleQuery,
		Dataset:   cfg.Dataset,
		Points:    cfg.Generate.Points,
		Dimension: cfg.Generate.Dimension,
		Policy:    gate.BuildIfMissing,
		Build:     cfg.Params(),
		Search: &SearchParams{
			K:              cfg.Search.K,
			L:              cfg.Search.L,
			BeamWidth:      cfg.Search.BeamWidth,
			Threads:        cfg.Search.Threads,
			UseReorderData: cfg.Search.Reorder,
		},
	}
}

// Validate checks the spec before any file is touched.
func (s Spec) Validate() error {
	if s.Points <= 0 || s.Dimension <= 0 {
		return fmt.Errorf("%w: points and dimension must be positive (n=%d, d=%d)",
			adadisk.ErrInvalidArgument, s.Points, s.Dimension)
	}
	if s.Search != nil {
		if s.Search.K <= 0 || s.Search.K > s.Points {
			return fmt.Errorf("%w: k=%d with %d points", adadisk.ErrInvalidK, s.Search.K, s.Points)
		}
		if s.Query != nil && len(s.Query) != s.Dimension {
			return &adadisk.DimensionMismatchError{Expected: s.Dimension, Actual: len(s.Query)}
		}
	}
	return nil
}

// DefaultQuery returns a dim-length vector of DefaultQueryValue.
func DefaultQuery(dim int) []float32 {
	q := make([]float32, dim)
	for i := range q {
		q[i] = DefaultQueryValue
	}
	return q
}
