package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/resource"
)

// DefaultSeed is the seed used when none is configured.
const DefaultSeed int64 = 42

// Option configures a Generator.
type Option func(*options)

type options struct {
	seed       int64
	randomSeed bool
	fs         fs.FileSystem
	rc         *resource.Controller
	logger     *adadisk.Logger
	metrics    adadisk.MetricsCollector
	role       string
}

// WithSeed sets the pseudorandom seed. Equal seeds produce byte-identical datasets.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.randomSeed = false
	}
}

// WithRandomSeed seeds every Generate call from the clock, so repeated calls
// at the same path produce different datasets.
func WithRandomSeed() Option {
	return func(o *options) {
		o.randomSeed = true
	}
}

// WithFileSystem sets the file system used for writing.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController throttles writes to the controller's IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *adadisk.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector and the role label it reports under.
func WithMetrics(role string, mc adadisk.MetricsCollector) Option {
	return func(o *options) {
		o.role = role
		o.metrics = mc
	}
}

// Generator writes synthetic datasets of uniform [0,1) values.
type Generator struct {
	opts options
}

// NewGenerator creates a Generator.
func NewGenerator(optFns ...Option) *Generator {
	o := options{
		seed:    DefaultSeed,
		fs:      fs.Default,
		logger:  adadisk.NoopLogger(),
		metrics: adadisk.NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return &Generator{opts: o}
}

// Generate is a shortcut for NewGenerator(opts...).Generate.
func Generate(ctx context.Context, path string, n, d int, opts ...Option) (Header, error) {
	return NewGenerator(opts...).Generate(ctx, path, n, d)
}

// Generate writes an n x d dataset to path, replacing any existing file.
// The parent directory is created if needed. The file appears atomically:
// readers see either the previous file or the complete new one.
func (g *Generator) Generate(ctx context.Context, path string, n, d int) (Header, error) {
	start := time.Now()
	h := Header{Points: n, Dimension: d}

	err := g.generate(ctx, path, h)

	elapsed := time.Since(start)
	g.opts.logger.LogGenerate(ctx, path, n, d, elapsed, err)
	g.opts.metrics.RecordGenerate(g.opts.role, n, d, elapsed, err)

	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func (g *Generator) generate(ctx context.Context, path string, h Header) error {
	if err := h.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := g.opts.fs.MkdirAll(dir, 0755); err != nil {
		return adadisk.NewIOError("mkdir", dir, err)
	}

	seed := g.opts.seed
	if g.opts.randomSeed {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	err := fs.WriteFileAtomic(g.opts.fs, path, 0644, func(w io.Writer) error {
		if g.opts.rc != nil {
			w = resource.NewRateLimitedWriter(ctx, w, g.opts.rc)
		}
		bw := bufio.NewWriterSize(w, 256*1024)

		if _, err := bw.Write(h.encode()); err != nil {
			return err
		}

		row := make([]byte, 4*h.Dimension)
		for i := 0; i < h.Points; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for j := 0; j < h.Dimension; j++ {
				binary.LittleEndian.PutUint32(row[4*j:], math.Float32bits(rng.Float32()))
			}
			if _, err := bw.Write(row); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return adadisk.NewIOError("write", path, err)
	}

	return nil
}
