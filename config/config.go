// Package config loads the coordinator configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/internal/compress"
	"github.com/hupe1980/adadisk/namespace"
	"github.com/hupe1980/adadisk/orchestrator"
)

// DefaultPath is the file Load reads when no path is given.
const DefaultPath = "adadisk.yaml"

// Engine kinds.
const (
	EngineVamana = "vamana"
	EngineCLI    = "cli"
)

// Mirror backends.
const (
	MirrorNone  = "none"
	MirrorLocal = "local"
	MirrorMinio = "minio"
	MirrorS3    = "s3"
)

// Config holds the application configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Dataset  string         `yaml:"dataset"`
	Variant  string         `yaml:"variant"`
	Engine   EngineConfig   `yaml:"engine"`
	Generate GenerateConfig `yaml:"generate"`
	Build    BuildConfig    `yaml:"build"`
	Search   SearchConfig   `yaml:"search"`
	Gate     GateConfig     `yaml:"gate"`
	Lock     LockConfig     `yaml:"lock"`
	Mirror   MirrorConfig   `yaml:"mirror,omitempty"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig selects the index engine.
type EngineConfig struct {
	Kind   string `yaml:"kind"`              // "vamana" | "cli"
	BinDir string `yaml:"bin_dir,omitempty"` // directory of build_disk_index / search_disk_index
	Seed   int64  `yaml:"seed,omitempty"`    // graph construction seed (vamana)
}

// GenerateConfig holds dataset generation parameters.
type GenerateConfig struct {
	Points    int   `yaml:"points"`
	Dimension int   `yaml:"dimension"`
	Seed      int64 `yaml:"seed"`
	// RandomSeed ignores Seed and draws fresh values on every run.
	RandomSeed bool `yaml:"random_seed,omitempty"`
	// IOLimit caps generation and mirror writes in bytes per second. Zero is unlimited.
	IOLimit int64 `yaml:"io_limit,omitempty"`
}

// BuildConfig holds the index build parameters.
type BuildConfig struct {
	Metric      string        `yaml:"metric"`
	R           int           `yaml:"r"`
	L           int           `yaml:"l"`
	B           float64       `yaml:"b"`
	M           float64       `yaml:"m"`
	T           int           `yaml:"t"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	KeepPartial bool          `yaml:"keep_partial,omitempty"`
}

// SearchConfig holds consumer search parameters.
type SearchConfig struct {
	K         int  `yaml:"k"`
	L         int  `yaml:"l"`
	BeamWidth int  `yaml:"beam_width"`
	Threads   int  `yaml:"threads"`
	Reorder   bool `yaml:"reorder,omitempty"`
}

// GateConfig configures the idempotency checks.
type GateConfig struct {
	Verification string `yaml:"verification"` // "manifest" | "sentinel"
}

// LockConfig configures the ensure-ready lock.
type LockConfig struct {
	Disabled bool          `yaml:"disabled,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MirrorConfig configures artifact publishing.
type MirrorConfig struct {
	Backend   string `yaml:"backend"` // "none" | "local" | "minio" | "s3"
	Path      string `yaml:"path,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Secure    bool   `yaml:"secure,omitempty"`
	Codec     string `yaml:"codec,omitempty"` // "none" | "lz4" | "zstd"
}

// AuditConfig configures the run journal.
type AuditConfig struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	Path     string `yaml:"path,omitempty"` // defaults to <data_dir>/audit.db
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Textfile is written in Prometheus text format after every run.
	Textfile string `yaml:"textfile,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
	File   string `yaml:"file,omitempty"`
}

// Default returns the configuration of the reference deployment.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

// Load reads path, or DefaultPath if path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg, err := LoadFromFile(path)
	if IsConfigNotFound(err) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigNotFoundError{RequestedPath: path}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ConfigNotFoundError is returned when the config file does not exist.
type ConfigNotFoundError struct {
	RequestedPath string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s (run 'adadisk init' to create one)", e.RequestedPath)
}

// IsConfigNotFound checks if err is a ConfigNotFoundError.
func IsConfigNotFound(err error) bool {
	var nf *ConfigNotFoundError
	return errors.As(err, &nf)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		c.DataDir = namespace.DefaultBaseDir
	}
	c.DataDir = expandPath(c.DataDir)
	if c.Dataset == "" {
		c.Dataset = namespace.DefaultDataset
	}
	if c.Variant == "" {
		c.Variant = namespace.DiskResident.String()
	}

	if c.Engine.Kind == "" {
		c.Engine.Kind = EngineVamana
	}
	if c.Engine.Seed == 0 {
		c.Engine.Seed = 42
	}

	if c.Generate.Points == 0 {
		c.Generate.Points = 10000
	}
	if c.Generate.Dimension == 0 {
		c.Generate.Dimension = 128
	}
	if c.Generate.Seed == 0 {
		c.Generate.Seed = 42
	}

	def := orchestrator.DefaultParams()
	if c.Build.Metric == "" {
		c.Build.Metric = string(def.Metric)
	}
	if c.Build.R == 0 {
		c.Build.R = def.R
	}
	if c.Build.L == 0 {
		c.Build.L = def.L
	}
	if c.Build.B == 0 {
		c.Build.B = def.B
	}
	if c.Build.M == 0 {
		c.Build.M = def.M
	}
	if c.Build.T == 0 {
		c.Build.T = def.T
	}

	if c.Search.K == 0 {
		c.Search.K = 5
	}
	if c.Search.L == 0 {
		c.Search.L = 20
	}
	if c.Search.BeamWidth == 0 {
		c.Search.BeamWidth = 4
	}
	if c.Search.Threads == 0 {
		c.Search.Threads = c.Build.T
	}

	if c.Gate.Verification == "" {
		c.Gate.Verification = gate.VerifyManifest.String()
	}
	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = 10 * time.Minute
	}

	if c.Mirror.Backend == "" {
		c.Mirror.Backend = MirrorNone
	}
	if c.Mirror.Codec == "" {
		c.Mirror.Codec = compress.Zstd.String()
	}
	c.Mirror.Path = expandPath(c.Mirror.Path)

	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.DataDir, "audit.db")
	}
	c.Audit.Path = expandPath(c.Audit.Path)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	return nil
}

// Normalize fills defaults for fields cleared or overridden after loading and
// validates the result.
func (c *Config) Normalize() error {
	if err := c.applyDefaults(); err != nil {
		return err
	}
	return c.Validate()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{adadisk.ErrInvalidArgument}, args...)...)
}

// Validate validates the configuration. Every error wraps adadisk.ErrInvalidArgument.
func (c *Config) Validate() error {
	if err := namespace.ValidateName("dataset", c.Dataset); err != nil {
		return err
	}
	if _, err := namespace.ParseVariant(c.Variant); err != nil {
		return err
	}

	switch c.Engine.Kind {
	case EngineVamana, EngineCLI:
	default:
		return invalid("unsupported engine kind: %s", c.Engine.Kind)
	}

	if c.Generate.Points <= 0 || c.Generate.Dimension <= 0 {
		return invalid("generate.points and generate.dimension must be positive, got %d and %d",
			c.Generate.Points, c.Generate.Dimension)
	}
	if c.Generate.IOLimit < 0 {
		return invalid("generate.io_limit must not be negative")
	}

	if err := c.Params().Request(namespace.Entry{DataPath: "x", IndexPrefix: "x"}).Validate(); err != nil {
		return err
	}
	if c.Build.Timeout < 0 {
		return invalid("build.timeout must not be negative")
	}

	if c.Search.K <= 0 {
		return invalid("search.k must be positive, got %d", c.Search.K)
	}
	if c.Search.K > c.Generate.Points {
		return invalid("search.k (%d) exceeds generate.points (%d)", c.Search.K, c.Generate.Points)
	}
	if c.Search.L <= 0 || c.Search.BeamWidth <= 0 || c.Search.Threads <= 0 {
		return invalid("search.l, search.beam_width and search.threads must be positive")
	}

	if _, err := gate.ParseVerification(c.Gate.Verification); err != nil {
		return err
	}
	if c.Lock.Timeout < 0 {
		return invalid("lock.timeout must not be negative")
	}

	if _, err := compress.ParseCodec(c.Mirror.Codec); err != nil {
		return invalid("%v", err)
	}
	switch c.Mirror.Backend {
	case MirrorNone:
	case MirrorLocal:
		if c.Mirror.Path == "" {
			return invalid("local mirror requires mirror.path")
		}
	case MirrorMinio:
		if c.Mirror.Endpoint == "" || c.Mirror.Bucket == "" {
			return invalid("minio mirror requires mirror.endpoint and mirror.bucket")
		}
	case MirrorS3:
		if c.Mirror.Bucket == "" {
			return invalid("s3 mirror requires mirror.bucket")
		}
	default:
		return invalid("unsupported mirror backend: %s", c.Mirror.Backend)
	}

	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format must be text or json, got %s", c.Log.Format)
	}
	return nil
}

// Params returns the orchestrator build parameters.
func (c *Config) Params() orchestrator.Params {
	return orchestrator.Params{
		Metric: engine.Metric(c.Build.Metric),
		R:      c.Build.R,
		L:      c.Build.L,
		B:      c.Build.B,
		M:      c.Build.M,
		T:      c.Build.T,
	}
}

// Namespace returns the namespace described by the configuration.
func (c *Config) Namespace() (*namespace.Namespace, error) {
	variant, err := namespace.ParseVariant(c.Variant)
	if err != nil {
		return nil, err
	}
	return namespace.New(c.DataDir, variant), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, invalid("log.level: %v", err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Logger builds the configured logger. stderr is used when no file is set.
// The returned closer releases the log file.
func (l LogConfig) Logger(stderr io.Writer) (*adadisk.Logger, io.Closer, error) {
	level, err := l.level()
	if err != nil {
		return nil, nil, err
	}

	var (
		w      = stderr
		closer io.Closer = nopCloser{}
	)
	if l.File != "" {
		f, err := os.OpenFile(expandPath(l.File), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, adadisk.NewIOError("open", l.File, err)
		}
		w, closer = f, f
	}

	if l.Format == "json" {
		return adadisk.NewJSONLogger(w, level), closer, nil
	}
	return adadisk.NewTextLogger(w, level), closer, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return adadisk.NewIOError("write", path, err)
	}
	return nil
}

const defaultConfigTemplate = `# adadisk configuration
#
# Both roles share data_dir. Paths derive from (role, dataset):
#   <data_dir>/<role>_<dataset>.bin and <data_dir>/<role>_<dataset>_index*

data_dir: ./hpdic_data
dataset: raw
variant: disk              # disk | memory

engine:
  kind: vamana             # vamana (in-process) | cli (DiskANN binaries)
  # bin_dir: /opt/diskann/build/apps
  seed: 42

generate:
  points: 10000
  dimension: 128
  seed: 42
  # random_seed: true
  # io_limit: 104857600    # bytes per second

build:
  metric: l2               # l2 | mips | cosine
  r: 32
  l: 50
  b: 0.1                   # PQ budget in GB
  m: 0.1                   # build memory in GB
  t: 4
  # timeout: 30m
  # keep_partial: true

search:
  k: 5
  l: 20
  beam_width: 4
  threads: 4

gate:
  verification: manifest   # manifest | sentinel

lock:
  timeout: 10m
  # disabled: true

mirror:
  backend: none            # none | local | minio | s3
  codec: zstd              # none | lz4 | zstd
  # path: /mnt/shared/adadisk
  # endpoint: localhost:9000
  # bucket: adadisk
  # prefix: mirror/

log:
  level: info
  format: text
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, invalid("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, adadisk.NewIOError("mkdir", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, adadisk.NewIOError("write", path, err)
	}
	return true, nil
}
