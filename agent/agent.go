package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/handle"
	"github.com/hupe1980/adadisk/internal/lock"
	"github.com/hupe1980/adadisk/namespace"
	"github.com/hupe1980/adadisk/orchestrator"
)

// DefaultLockTimeout bounds how long a run waits for another agent's ensure-ready phase.
const DefaultLockTimeout = 10 * time.Minute

// Generator writes a synthetic dataset. *dataset.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, path string, n, d int) (dataset.Header, error)
}

type options struct {
	generator   Generator
	checker     *gate.Checker
	logger      *adadisk.Logger
	metrics     adadisk.MetricsCollector
	locking     bool
	lockTimeout time.Duration
	mirror      *Mirror
	orchOpts    []orchestrator.Option
	// afterCheck runs once a gate decision for step ("generate" or "build")
	// is made and before it is acted on.
	afterCheck func(step string)
}

// Option configures an Agent.
type Option func(*options)

// WithGenerator replaces the default seeded dataset generator.
func WithGenerator(g Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithChecker sets the existence checker used by the idempotency gate.
func WithChecker(c *gate.Checker) Option {
	return func(o *options) { o.checker = c }
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

// WithLockTimeout sets how long a run waits for the namespace entry lock.
// Zero waits until the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithoutLock runs the ensure-ready phase without the namespace entry lock.
// Concurrent agents on one entry may then both generate and build.
func WithoutLock() Option {
	return func(o *options) { o.locking = false }
}

// WithMirror publishes (producer) or restores (consumer) artifacts through m.
func WithMirror(m *Mirror) Option {
	return func(o *options) { o.mirror = m }
}

// WithOrchestratorOptions passes options to the build orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.orchOpts = append(o.orchOpts, opts...) }
}

// Agent runs one role's pipeline against one namespace entry.
type Agent struct {
	spec   Spec
	entry  namespace.Entry
	engine engine.Engine
	gate   gate.Gate
	orch   *orchestrator.Orchestrator
	opts   options
}

// New creates an Agent for spec on namespace ns.
func New(spec Spec, ns *namespace.Namespace, eng engine.Engine, optFns ...Option) (*Agent, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: engine is required", adadisk.ErrInvalidArgument)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	entry, err := ns.Resolve(spec.Role, spec.Dataset)
	if err != nil {
		return nil, err
	}

	opts := options{
		logger:      adadisk.NoopLogger(),
		metrics:     adadisk.NoopMetricsCollector{},
		locking:     true,
		lockTimeout: DefaultLockTimeout,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.generator == nil {
		opts.generator = dataset.NewGenerator(
			dataset.WithLogger(opts.logger),
			dataset.WithMetrics(string(spec.Role), opts.metrics),
		)
	}

	orchOpts := append([]orchestrator.Option{
		orchestrator.WithLogger(opts.logger),
		orchestrator.WithMetrics(opts.metrics),
	}, opts.orchOpts...)

	return &Agent{
		spec:   spec,
		entry:  entry,
		engine: eng,
		gate:   gate.New(spec.Policy, opts.checker),
		orch:   orchestrator.New(eng, orchOpts...),
		opts:   opts,
	}, nil
}

// Entry returns the namespace entry the agent works on.
func (a *Agent) Entry() namespace.Entry { return a.entry }

// Spec returns the agent's spec.
func (a *Agent) Spec() Spec { return a.spec }

// Run executes the pipeline once. The report is returned even on failure.
func (a *Agent) Run(ctx context.Context) (*Report, error) {
	r := &Report{
		RunID:     uuid.NewString(),
		Role:      a.spec.Role,
		Dataset:   a.entry.Dataset,
		Engine:    a.engine.Name(),
		StartedAt: time.Now(),
	}
	log := a.opts.logger.WithRole(string(a.spec.Role)).WithDataset(a.entry.Dataset).WithRunID(r.RunID)
	log.InfoContext(ctx, "agent started", "engine", r.Engine, "policy", a.spec.Policy.String())

	err := a.ensureReady(ctx, log, r)
	if err == nil && a.spec.Search != nil {
		err = a.serve(ctx, log, r)
	}

	r.Duration = time.Since(r.StartedAt)
	r.finish(err)
	if err != nil {
		log.ErrorContext(ctx, "agent failed", "duration", r.Duration, "retryable", adadisk.IsRetryable(err), "error", err)
	} else {
		log.InfoContext(ctx, "agent finished", "duration", r.Duration, "actions", r.Actions())
	}
	return r, err
}

// ensureReady makes the dataset and a complete index present for the entry.
func (a *Agent) ensureReady(ctx context.Context, log *adadisk.Logger, r *Report) error {
	if a.opts.locking {
		l := lock.New(a.entry.LockPath)
		if err := l.Acquire(ctx, a.opts.lockTimeout); err != nil {
			return err
		}
		defer func() {
			if err := l.Release(); err != nil {
				log.WarnContext(ctx, "releasing lock failed", "path", l.Path(), "error", err)
			}
		}()

		// Under the lock no other writer is active, so any temp file is stale.
		n, err := orchestrator.RemoveTempFiles(nil, a.entry)
		if err != nil {
			log.WarnContext(ctx, "removing stale temp files failed", "error", err)
		} else if n > 0 {
			log.InfoContext(ctx, "removed stale temp files", "count", n)
		}
	}

	role := string(a.spec.Role)

	if a.opts.mirror != nil && a.spec.Policy == gate.BuildIfMissing && a.gate.NeedBuild(a.entry) {
		restored, err := a.opts.mirror.Restore(ctx, a.entry)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WarnContext(ctx, "mirror restore failed, falling back to local build", "error", err)
		}
		r.Restored = restored
	}

	needGenerate := a.gate.NeedGenerate(a.entry)
	a.checked("generate")
	a.opts.metrics.RecordGate(role, "generate", !needGenerate)
	if needGenerate {
		if _, err := a.opts.generator.Generate(ctx, a.entry.DataPath, a.spec.Points, a.spec.Dimension); err != nil {
			return err
		}
		r.Generated = true
	} else {
		log.LogSkip(ctx, "generate", a.entry.DataPath)
	}

	needBuild := a.gate.NeedBuild(a.entry)
	a.checked("build")
	a.opts.metrics.RecordGate(role, "build", !needBuild)
	if needBuild {
		if _, err := a.orch.Build(ctx, a.entry, a.spec.Build); err != nil {
			return err
		}
		r.Built = true
	} else {
		log.LogSkip(ctx, "build", a.entry.SentinelPath)
	}

	if a.opts.mirror != nil && a.spec.Policy == gate.AlwaysRebuild {
		if err := a.opts.mirror.Publish(ctx, a.entry); err != nil {
			return err
		}
		r.Published = true
	}
	return nil
}

func (a *Agent) checked(step string) {
	if a.opts.afterCheck != nil {
		a.opts.afterCheck(step)
	}
}

// serve loads the index, runs the query and records the results.
func (a *Agent) serve(ctx context.Context, log *adadisk.Logger, r *Report) (err error) {
	p := a.spec.Search

	h := handle.New(a.engine,
		handle.WithMetric(a.spec.Build.Metric),
		handle.WithLogger(log),
		handle.WithMetrics(a.opts.metrics),
	)
	if err := h.Load(ctx, a.entry.IndexPrefix, p.Threads); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.Close())
	}()

	query := a.spec.Query
	if query == nil {
		dim, err := h.Dimension()
		if err != nil {
			return err
		}
		query = DefaultQuery(dim)
	}

	res, err := h.Search(ctx, engine.SearchRequest{
		Query:          query,
		K:              p.K,
		L:              p.L,
		BeamWidth:      p.BeamWidth,
		UseReorderData: p.UseReorderData,
	})
	if err != nil {
		return err
	}

	r.Results = res
	r.Top1 = &res[0]
	log.InfoContext(ctx, "top-1 neighbor", "id", res[0].ID, "distance", res[0].Distance, "k", len(res))
	return nil
}
