// Package orchestrator turns a namespace entry and build parameters into one
// synchronous engine build, and owns everything around it: removing the stale
// completion manifest, cleaning up after failures, checking the sentinel and
// writing the new manifest last.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/progress"
	"github.com/hupe1980/adadisk/namespace"
)

// Params are the tunable build parameters.
type Params struct {
	Metric engine.Metric
	R      int
	L      int
	B      float64
	M      float64
	T      int
}

// DefaultParams returns R=32, L=50, B=0.1, M=0.1, T=4 with the L2 metric.
func DefaultParams() Params {
	return Params{Metric: engine.L2, R: 32, L: 50, B: 0.1, M: 0.1, T: 4}
}

// Request builds the engine request for entry.
func (p Params) Request(entry namespace.Entry) engine.BuildRequest {
	metric := p.Metric
	if metric == "" {
		metric = engine.L2
	}
	return engine.BuildRequest{
		DataType:    engine.Float,
		Metric:      metric,
		DataPath:    entry.DataPath,
		IndexPrefix: entry.IndexPrefix,
		R:           p.R,
		L:           p.L,
		B:           p.B,
		M:           p.M,
		T:           p.T,
	}
}

// Cleanup selects what happens to artifacts of a failed build.
type Cleanup int

const (
	// CleanupPartial removes every file under the index prefix after a failure.
	CleanupPartial Cleanup = iota
	// KeepPartial leaves partial artifacts in place.
	KeepPartial
)

type options struct {
	fsys     fs.FileSystem
	cleanup  Cleanup
	timeout  time.Duration
	logger   *adadisk.Logger
	metrics  adadisk.MetricsCollector
	progress io.Writer
	spinner  bool
}

// Option configures an Orchestrator.
type Option func(*options)

// WithCleanup sets the failure cleanup policy.
func WithCleanup(c Cleanup) Option {
	return func(o *options) { o.cleanup = c }
}

// WithTimeout bounds each build. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithFileSystem sets the filesystem used for cleanup and the manifest.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *adadisk.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc adadisk.MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithProgress shows a spinner on w while the engine runs.
func WithProgress(w io.Writer, enabled bool) Option {
	return func(o *options) {
		o.progress = w
		o.spinner = enabled
	}
}

// Orchestrator invokes an engine.Builder for namespace entries.
type Orchestrator struct {
	builder engine.Builder
	opts    options
}

// New returns an Orchestrator driving builder.
func New(builder engine.Builder, optFns ...Option) *Orchestrator {
	opts := options{
		fsys:    fs.Default,
		cleanup: CleanupPartial,
		logger:  adadisk.NoopLogger(),
		metrics: adadisk.NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{builder: builder, opts: opts}
}

func (o *Orchestrator) engineName() string {
	if n, ok := o.builder.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", o.builder)
}

// Build runs one build for entry and blocks until the engine finishes.
//
// A non-success engine status is returned as a *adadisk.BuildError alongside
// the status. Failures are not retried.
func (o *Orchestrator) Build(ctx context.Context, entry namespace.Entry, p Params) (engine.BuildStatus, error) {
	req := p.Request(entry)
	if err := req.Validate(); err != nil {
		return engine.BuildStatus{}, err
	}

	if err := gate.RemoveManifest(o.opts.fsys, entry.ManifestPath); err != nil {
		return engine.BuildStatus{}, err
	}

	if o.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.timeout)
		defer cancel()
	}

	log := o.opts.logger.WithRole(string(entry.Role)).WithDataset(entry.Dataset)
	log.InfoContext(ctx, "building index", "engine", o.engineName(), "prefix", entry.IndexPrefix,
		"R", req.R, "L", req.L, "B", req.B, "M", req.M, "T", req.T)

	start := time.Now()
	status, err := o.invoke(ctx, req)
	if err == nil {
		err = o.finish(entry, req, status)
	}
	d := time.Since(start)

	if err != nil {
		o.cleanupAfter(ctx, log, entry)
	}
	log.LogBuild(ctx, entry.IndexPrefix, d, err)
	o.opts.metrics.RecordBuild(string(entry.Role), d, err)
	return status, err
}

func (o *Orchestrator) invoke(ctx context.Context, req engine.BuildRequest) (engine.BuildStatus, error) {
	spin := progress.StartSpinner(o.opts.progress, o.opts.spinner, "building "+req.IndexPrefix)
	defer spin.Stop()
	return o.builder.Build(ctx, req)
}

// finish checks the engine outcome and writes the manifest last.
func (o *Orchestrator) finish(entry namespace.Entry, req engine.BuildRequest, status engine.BuildStatus) error {
	if !status.Success() {
		return &adadisk.BuildError{Code: status.Code, Stderr: status.Stderr}
	}
	if !fs.Exists(o.opts.fsys, entry.SentinelPath) {
		return &adadisk.BuildError{
			Code: status.Code,
			Err:  fmt.Errorf("engine reported success but sentinel %s is missing", entry.SentinelPath),
		}
	}

	m, err := gate.NewManifest(o.opts.fsys, entry, o.engineName(), req)
	if err != nil {
		return err
	}
	return gate.WriteManifest(o.opts.fsys, entry.ManifestPath, m)
}

func (o *Orchestrator) cleanupAfter(ctx context.Context, log *adadisk.Logger, entry namespace.Entry) {
	if o.opts.cleanup == KeepPartial {
		return
	}
	if err := RemoveArtifacts(o.opts.fsys, entry); err != nil {
		log.WarnContext(ctx, "removing partial artifacts failed", "prefix", entry.IndexPrefix, "error", err)
	}
}

// RemoveArtifacts deletes every file under the entry's index prefix,
// including the manifest.
func RemoveArtifacts(fsys fs.FileSystem, entry namespace.Entry) error {
	if fsys == nil {
		fsys = fs.Default
	}
	paths, err := entry.Artifacts()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		errs = append(errs, adadisk.NewIOError("remove", p, fsys.Remove(p)))
	}
	return errors.Join(errs...)
}

// RemoveTempFiles deletes temp files abandoned by interrupted atomic writes
// and returns how many were removed. The caller must hold the entry's lock.
func RemoveTempFiles(fsys fs.FileSystem, entry namespace.Entry) (int, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	paths, err := entry.TempFiles()
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, p := range paths {
		errs = append(errs, adadisk.NewIOError("remove", p, fsys.Remove(p)))
	}
	return len(paths), errors.Join(errs...)
}
