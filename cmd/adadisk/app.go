package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/agent"
	"github.com/hupe1980/adadisk/audit"
	"github.com/hupe1980/adadisk/blobstore"
	miniostore "github.com/hupe1980/adadisk/blobstore/minio"
	s3store "github.com/hupe1980/adadisk/blobstore/s3"
	"github.com/hupe1980/adadisk/config"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/engine/cli"
	"github.com/hupe1980/adadisk/engine/vamana"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/internal/compress"
	"github.com/hupe1980/adadisk/internal/progress"
	"github.com/hupe1980/adadisk/internal/resource"
	"github.com/hupe1980/adadisk/metrics"
	"github.com/hupe1980/adadisk/namespace"
	"github.com/hupe1980/adadisk/orchestrator"
)

// app holds everything a command needs, built once from the configuration.
type app struct {
	cfg      *config.Config
	logger   *adadisk.Logger
	logClose io.Closer
	metrics  *metrics.Collector
	ns       *namespace.Namespace
	engine   engine.Engine
	checker  *gate.Checker
	rc       *resource.Controller
	mirror   *agent.Mirror
	progress bool
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer, showProgress bool) (*app, error) {
	logger, logClose, err := cfg.Log.Logger(stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		logClose: logClose,
		metrics:  metrics.New(),
		rc:       resource.NewController(resource.Config{IOLimitBytesPerSec: cfg.Generate.IOLimit}),
		progress: showProgress && progress.Enabled(),
	}

	if a.ns, err = cfg.Namespace(); err != nil {
		return nil, a.closeWith(err)
	}
	if err := a.ns.EnsureBaseDir(); err != nil {
		return nil, a.closeWith(err)
	}

	verification, err := gate.ParseVerification(cfg.Gate.Verification)
	if err != nil {
		return nil, a.closeWith(err)
	}
	a.checker = gate.NewChecker(gate.WithVerification(verification))

	if a.engine, err = newEngine(cfg, a.ns.Variant(), logger); err != nil {
		return nil, a.closeWith(err)
	}

	store, err := newStore(ctx, cfg.Mirror)
	if err != nil {
		return nil, a.closeWith(err)
	}
	if store != nil {
		codec, err := compress.ParseCodec(cfg.Mirror.Codec)
		if err != nil {
			return nil, a.closeWith(err)
		}
		a.mirror = agent.NewMirror(store, codec,
			agent.WithMirrorResourceController(a.rc),
			agent.WithMirrorLogger(logger),
		)
	}
	return a, nil
}

func (a *app) closeWith(err error) error {
	return errors.Join(err, a.logClose.Close())
}

func newEngine(cfg *config.Config, variant namespace.Variant, logger *adadisk.Logger) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case config.EngineVamana:
		return vamana.New(variant,
			vamana.WithSeed(cfg.Engine.Seed),
			vamana.WithLogger(logger),
		), nil
	case config.EngineCLI:
		return cli.New(
			cli.WithBinDir(cfg.Engine.BinDir),
			cli.WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("%w: unsupported engine %q", adadisk.ErrInvalidArgument, cfg.Engine.Kind)
	}
}

func newStore(ctx context.Context, m config.MirrorConfig) (blobstore.Store, error) {
	switch m.Backend {
	case config.MirrorNone:
		return nil, nil
	case config.MirrorLocal:
		return blobstore.NewLocalStore(m.Path), nil
	case config.MirrorMinio:
		accessKey, secretKey := m.AccessKey, m.SecretKey
		if accessKey == "" {
			accessKey = os.Getenv("MINIO_ACCESS_KEY")
			secretKey = os.Getenv("MINIO_SECRET_KEY")
		}
		client, err := minio.New(m.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: m.Secure,
			Region: m.Region,
		})
		if err != nil {
			return nil, &adadisk.EngineUnavailableError{Engine: "minio", Err: err}
		}
		return miniostore.NewStore(client, m.Bucket, m.Prefix), nil
	case config.MirrorS3:
		opts := []s3store.Option{s3store.WithPrefix(m.Prefix)}
		if m.Region != "" {
			opts = append(opts, s3store.WithRegion(m.Region))
		}
		if m.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(m.Endpoint))
		}
		store, err := s3store.New(ctx, m.Bucket, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 mirror: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unsupported mirror backend %q", adadisk.ErrInvalidArgument, m.Backend)
	}
}

func (a *app) generator(role namespace.Role) *dataset.Generator {
	opts := []dataset.Option{
		dataset.WithResourceController(a.rc),
		dataset.WithLogger(a.logger),
		dataset.WithMetrics(string(role), a.metrics),
	}
	if a.cfg.Generate.RandomSeed {
		opts = append(opts, dataset.WithRandomSeed())
	} else {
		opts = append(opts, dataset.WithSeed(a.cfg.Generate.Seed))
	}
	return dataset.NewGenerator(opts...)
}

func (a *app) newAgent(spec agent.Spec, stderr io.Writer) (*agent.Agent, error) {
	cleanup := orchestrator.CleanupPartial
	if a.cfg.Build.KeepPartial {
		cleanup = orchestrator.KeepPartial
	}

	opts := []agent.Option{
		agent.WithGenerator(a.generator(spec.Role)),
		agent.WithChecker(a.checker),
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
		agent.WithLockTimeout(a.cfg.Lock.Timeout),
		agent.WithOrchestratorOptions(
			orchestrator.WithCleanup(cleanup),
			orchestrator.WithTimeout(a.cfg.Build.Timeout),
			orchestrator.WithProgress(stderr, a.progress),
		),
	}
	if a.cfg.Lock.Disabled {
		opts = append(opts, agent.WithoutLock())
	}
	if a.mirror != nil {
		opts = append(opts, agent.WithMirror(a.mirror))
	}
	return agent.New(spec, a.ns, a.engine, opts...)
}

// run executes the agents, prints one line per report plus the summary and
// records the reports in the journal.
func (a *app) run(ctx context.Context, stdout io.Writer, agents ...*agent.Agent) error {
	reports, runErr := agent.RunAll(ctx, agents...)

	for _, r := range reports {
		fmt.Fprintln(stdout, r.String())
	}
	if len(reports) > 1 {
		fmt.Fprintln(stdout, audit.Summarize(reports))
	}

	return errors.Join(runErr, a.record(ctx, reports), a.writeMetrics())
}

func (a *app) record(ctx context.Context, reports []*agent.Report) error {
	if a.cfg.Audit.Disabled {
		return nil
	}
	j, err := audit.Open(a.cfg.Audit.Path)
	if err != nil {
		return err
	}
	for _, r := range reports {
		// A failed journal write does not fail the run.
		if err := j.Record(context.WithoutCancel(ctx), r); err != nil {
			a.logger.WarnContext(ctx, "failed to record run", "run_id", r.RunID, "error", err)
		}
	}
	return j.Close()
}

func (a *app) writeMetrics() error {
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.Metrics.Textfile)
}

func (a *app) Close() error {
	return a.logClose.Close()
}
