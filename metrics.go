package adadisk

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The metrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordGenerate is called after each dataset generation.
	RecordGenerate(role string, points, dim int, duration time.Duration, err error)

	// RecordBuild is called after each index build attempt.
	RecordBuild(role string, duration time.Duration, err error)

	// RecordLoad is called after each index load.
	RecordLoad(duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of neighbors requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordGate is called for every idempotency decision.
	// skipped is true if the step was bypassed because its output existed.
	RecordGate(role, step string, skipped bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGenerate(string, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordBuild(string, time.Duration, error)              {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)                       {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)                {}
func (NoopMetricsCollector) RecordGate(string, string, bool)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	GenerateCount    atomic.Int64
	GenerateErrors   atomic.Int64
	GeneratedBytes   atomic.Int64
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildTotalNanos  atomic.Int64
	LoadCount        atomic.Int64
	LoadErrors       atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	GateSkips        atomic.Int64
	GateRuns         atomic.Int64
}

// RecordGenerate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGenerate(_ string, points, dim int, _ time.Duration, err error) {
	b.GenerateCount.Add(1)
	if err != nil {
		b.GenerateErrors.Add(1)
		return
	}
	b.GeneratedBytes.Add(8 + 4*int64(points)*int64(dim))
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(_ string, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordGate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGate(_, _ string, skipped bool) {
	if skipped {
		b.GateSkips.Add(1)
	} else {
		b.GateRuns.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GenerateCount:  b.GenerateCount.Load(),
		GenerateErrors: b.GenerateErrors.Load(),
		GeneratedBytes: b.GeneratedBytes.Load(),
		BuildCount:     b.BuildCount.Load(),
		BuildErrors:    b.BuildErrors.Load(),
		BuildAvgNanos:  avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		LoadCount:      b.LoadCount.Load(),
		LoadErrors:     b.LoadErrors.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		GateSkips:      b.GateSkips.Load(),
		GateRuns:       b.GateRuns.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GenerateCount  int64
	GenerateErrors int64
	GeneratedBytes int64
	BuildCount     int64
	BuildErrors    int64
	BuildAvgNanos  int64
	LoadCount      int64
	LoadErrors     int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	GateSkips      int64
	GateRuns       int64
}
