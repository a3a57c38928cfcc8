// Package metrics implements adadisk.MetricsCollector with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/adadisk"
)

const namespace = "adadisk"

// Collector records coordinator metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	generated      *prometheus.CounterVec
	generatedBytes *prometheus.CounterVec
	generateTime   *prometheus.HistogramVec
	builds         *prometheus.CounterVec
	buildTime      *prometheus.HistogramVec
	loads          *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchTime     prometheus.Histogram
	gate           *prometheus.CounterVec
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// New returns a Collector with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		generated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_generated_total",
			Help:      "Datasets generated, by role and outcome.",
		}, []string{"role", "status"}),
		generatedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_bytes_written_total",
			Help:      "Bytes of dataset files written.",
		}, []string{"role"}),
		generateTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dataset_generate_duration_seconds",
			Help:      "Dataset generation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"role"}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds, by role and outcome.",
		}, []string{"role", "status"}),
		buildTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Index build latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"role"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_loads_total",
			Help:      "Index loads, by outcome.",
		}, []string{"status"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches, by outcome.",
		}, []string{"status"}),
		searchTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		gate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Idempotency decisions, by role, step and decision (run or skip).",
		}, []string{"role", "step", "decision"}),
	}
}

// Registry returns the registry the metrics live on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to path for the node exporter
// textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	return adadisk.NewIOError("write", path, prometheus.WriteToTextfile(path, c.registry))
}

func (c *Collector) RecordGenerate(role string, points, dim int, d time.Duration, err error) {
	c.generated.WithLabelValues(role, status(err)).Inc()
	if err == nil {
		c.generatedBytes.WithLabelValues(role).Add(float64(8 + 4*int64(points)*int64(dim)))
		c.generateTime.WithLabelValues(role).Observe(d.Seconds())
	}
}

func (c *Collector) RecordBuild(role string, d time.Duration, err error) {
	c.builds.WithLabelValues(role, status(err)).Inc()
	c.buildTime.WithLabelValues(role).Observe(d.Seconds())
}

func (c *Collector) RecordLoad(_ time.Duration, err error) {
	c.loads.WithLabelValues(status(err)).Inc()
}

func (c *Collector) RecordSearch(_ int, d time.Duration, err error) {
	c.searches.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.searchTime.Observe(d.Seconds())
	}
}

func (c *Collector) RecordGate(role, step string, skipped bool) {
	decision := "run"
	if skipped {
		decision = "skip"
	}
	c.gate.WithLabelValues(role, step, decision).Inc()
}

var _ adadisk.MetricsCollector = (*Collector)(nil)
