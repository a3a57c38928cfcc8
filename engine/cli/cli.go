// Package cli drives the DiskANN command line tools (build_disk_index and
// search_disk_index) as an engine.Engine.
//
// Builds run synchronously in a child process. A loaded index is a handle on
// the artifact prefix: every search writes the query to a temporary bin file,
// runs search_disk_index and reads its result files back.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/namespace"
)

const (
	// DefaultBuildBinary is the DiskANN build tool.
	DefaultBuildBinary = "build_disk_index"
	// DefaultSearchBinary is the DiskANN search tool.
	DefaultSearchBinary = "search_disk_index"

	stderrTail = 4096
)

// Option configures an Engine.
type Option func(*Engine)

// WithBinDir resolves both tools inside dir instead of PATH.
func WithBinDir(dir string) Option {
	return func(e *Engine) { e.binDir = dir }
}

// WithBuildBinary overrides the build tool name or path.
func WithBuildBinary(name string) Option {
	return func(e *Engine) { e.buildBin = name }
}

// WithSearchBinary overrides the search tool name or path.
func WithSearchBinary(name string) Option {
	return func(e *Engine) { e.searchBin = name }
}

// WithLogger sets the engine logger. Tool stdout is logged at debug level.
func WithLogger(l *adadisk.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTempDir sets where per-query scratch files are created.
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// Engine runs the DiskANN tools out of process.
type Engine struct {
	binDir    string
	buildBin  string
	searchBin string
	tempDir   string
	logger    *adadisk.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New creates a command line engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		buildBin:  DefaultBuildBinary,
		searchBin: DefaultSearchBinary,
		logger:    adadisk.NoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "diskann-cli" }

func (e *Engine) lookPath(name string) (string, error) {
	if e.binDir != "" && !filepath.IsAbs(name) {
		name = filepath.Join(e.binDir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &adadisk.EngineUnavailableError{Engine: name, Err: err}
	}
	return path, nil
}

// Build implements engine.Builder. It blocks until the build tool exits.
func (e *Engine) Build(ctx context.Context, req engine.BuildRequest) (engine.BuildStatus, error) {
	if err := req.Validate(); err != nil {
		return engine.BuildStatus{}, err
	}
	bin, err := e.lookPath(e.buildBin)
	if err != nil {
		return engine.BuildStatus{}, err
	}

	status, err := e.run(ctx, bin, req.Args())
	if err != nil {
		return engine.BuildStatus{}, err
	}
	return status, nil
}

// run executes bin and converts its exit into a BuildStatus. The error is
// non-nil only when the process could not be started or ctx ended first.
func (e *Engine) run(ctx context.Context, bin string, args []string) (engine.BuildStatus, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &tailBuffer{limit: stderrTail}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	e.logger.DebugContext(ctx, "running engine tool", "bin", bin, "args", args)
	err := cmd.Run()
	e.logger.DebugContext(ctx, "engine tool finished", "bin", bin, "duration", time.Since(start),
		"stdout_bytes", stdout.Len())

	if err == nil {
		return engine.BuildStatus{}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.BuildStatus{}, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			code = -1
		}
		return engine.BuildStatus{Code: code, Stderr: stderr.String()}, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
		return engine.BuildStatus{}, &adadisk.EngineUnavailableError{Engine: bin, Err: err}
	}
	return engine.BuildStatus{}, fmt.Errorf("run %s: %w", bin, err)
}

// Load implements engine.Loader. It checks the search tool and reads the
// index shape from the disk index metadata; no process is started.
func (e *Engine) Load(_ context.Context, req engine.LoadRequest) (engine.Searcher, error) {
	metric, err := engine.ParseMetric(string(req.Metric))
	if err != nil {
		return nil, err
	}
	bin, err := e.lookPath(e.searchBin)
	if err != nil {
		return nil, err
	}

	meta, err := engine.ReadDiskIndexMetaFile(namespace.Artifact(req.IndexPrefix, namespace.SuffixDiskIndex))
	if err != nil {
		return nil, err
	}
	for _, suffix := range []string{namespace.SuffixPQPivots, namespace.SuffixPQCompressed} {
		if _, err := os.Stat(namespace.Artifact(req.IndexPrefix, suffix)); err != nil {
			return nil, &adadisk.LoadError{Prefix: req.IndexPrefix, Err: err}
		}
	}

	return &searcher{
		engine:  e,
		bin:     bin,
		prefix:  req.IndexPrefix,
		metric:  metric,
		threads: max(1, req.Threads),
		meta:    meta,
	}, nil
}

type searcher struct {
	engine  *Engine
	bin     string
	prefix  string
	metric  engine.Metric
	threads int
	meta    engine.DiskIndexMeta

	mu     sync.Mutex
	closed bool
}

func (s *searcher) Dimension() int { return int(s.meta.Dimension) }
func (s *searcher) Points() int    { return int(s.meta.Points) }

func (s *searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *searcher) args(queryFile, resultPath string, req engine.SearchRequest) []string {
	args := []string{
		"--data_type", string(engine.Float),
		"--dist_fn", string(s.metric),
		"--index_path_prefix", s.prefix,
		"--query_file", queryFile,
		"--gt_file", "null",
		"-K", strconv.Itoa(req.K),
		"-L", strconv.Itoa(req.L),
		"-W", strconv.Itoa(req.BeamWidth),
		"--num_nodes_to_cache", "0",
		"-T", strconv.Itoa(s.threads),
		"--result_path", resultPath,
	}
	if req.UseReorderData {
		args = append(args, "--use_reorder_data")
	}
	return args
}

// Search implements engine.Searcher.
func (s *searcher) Search(ctx context.Context, req engine.SearchRequest) ([]engine.Neighbor, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, adadisk.ErrClosed
	}

	start := time.Now()
	if err := engine.ValidateSearch(&req, s.Dimension(), s.Points()); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.engine.tempDir, "adadisk-search-*")
	if err != nil {
		return nil, adadisk.NewIOError("mkdir", s.engine.tempDir, err)
	}
	defer os.RemoveAll(dir)

	queryFile := filepath.Join(dir, "query.bin")
	q := dataset.Matrix[float32]{Rows: 1, Cols: len(req.Query), Data: req.Query}
	if err := dataset.WriteBinFile(nil, queryFile, q); err != nil {
		return nil, err
	}

	resultPath := filepath.Join(dir, "res")
	status, err := s.engine.run(ctx, s.bin, s.args(queryFile, resultPath, req))
	if err != nil {
		return nil, err
	}
	if !status.Success() {
		return nil, fmt.Errorf("search_disk_index exited with status %d: %s", status.Code, status.Stderr)
	}

	res, err := readResults(resultPath, req.L, req.K)
	if err != nil {
		return nil, err
	}
	if req.Stats != nil {
		*req.Stats = engine.QueryStats{Latency: time.Since(start)}
	}
	return res, nil
}

// readResults reads the first query's rows of {path}_{L}_idx_uint32.bin and
// {path}_{L}_dists_float.bin.
func readResults(path string, L, k int) ([]engine.Neighbor, error) {
	base := path + "_" + strconv.Itoa(L)
	ids, err := dataset.ReadBinFile[uint32](base + "_idx_uint32.bin")
	if err != nil {
		return nil, fmt.Errorf("read search ids: %w", err)
	}
	dists, err := dataset.ReadBinFile[float32](base + "_dists_float.bin")
	if err != nil {
		return nil, fmt.Errorf("read search distances: %w", err)
	}
	if ids.Rows < 1 || dists.Rows < 1 || ids.Cols < k || dists.Cols < k {
		return nil, fmt.Errorf("search results have shape (%d, %d), want %d columns", ids.Rows, ids.Cols, k)
	}

	out := make([]engine.Neighbor, k)
	for i := range out {
		out[i] = engine.Neighbor{ID: uint64(ids.Data[i]), Distance: dists.Data[i]}
	}
	return out, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(bytes.TrimSpace(t.buf))
}
