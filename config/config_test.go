package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/namespace"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, namespace.DefaultBaseDir, cfg.DataDir)
	assert.Equal(t, "raw", cfg.Dataset)
	assert.Equal(t, 10000, cfg.Generate.Points)
	assert.Equal(t, 128, cfg.Generate.Dimension)
	assert.Equal(t, int64(42), cfg.Generate.Seed)
	assert.Equal(t, 5, cfg.Search.K)
	assert.Equal(t, 20, cfg.Search.L)
	assert.Equal(t, 4, cfg.Search.BeamWidth)
	assert.Equal(t, 10*time.Minute, cfg.Lock.Timeout)
	assert.Equal(t, filepath.Join(namespace.DefaultBaseDir, "audit.db"), cfg.Audit.Path)

	p := cfg.Params()
	assert.Equal(t, engine.L2, p.Metric)
	assert.Equal(t, 32, p.R)
	assert.Equal(t, 50, p.L)
	assert.Equal(t, 0.1, p.B)
	assert.Equal(t, 0.1, p.M)
	assert.Equal(t, 4, p.T)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adadisk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/adadisk
dataset: bench
variant: memory
generate:
  points: 100
  dimension: 8
build:
  metric: cosine
  r: 16
  timeout: 90s
search:
  k: 3
lock:
  timeout: 5s
mirror:
  backend: local
  path: /tmp/mirror
  codec: lz4
log:
  level: debug
  format: json
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/adadisk", cfg.DataDir)
	assert.Equal(t, "bench", cfg.Dataset)
	assert.Equal(t, 100, cfg.Generate.Points)
	assert.Equal(t, "cosine", cfg.Build.Metric)
	assert.Equal(t, 16, cfg.Build.R)
	assert.Equal(t, 50, cfg.Build.L, "unset fields keep their defaults")
	assert.Equal(t, 90*time.Second, cfg.Build.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 3, cfg.Search.K)

	ns, err := cfg.Namespace()
	require.NoError(t, err)
	assert.Equal(t, namespace.InMemory, ns.Variant())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, IsConfigNotFound(err))
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.False(t, IsConfigNotFound(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"dataset name", func(c *Config) { c.Dataset = "Raw_Data" }},
		{"variant", func(c *Config) { c.Variant = "ssd" }},
		{"engine", func(c *Config) { c.Engine.Kind = "faiss" }},
		{"points", func(c *Config) { c.Generate.Points = -1 }},
		{"metric", func(c *Config) { c.Build.Metric = "hamming" }},
		{"threads", func(c *Config) { c.Build.T = -2 }},
		{"k", func(c *Config) { c.Search.K = -1 }},
		{"k exceeds points", func(c *Config) { c.Search.K = c.Generate.Points + 1 }},
		{"beam", func(c *Config) { c.Search.BeamWidth = -1 }},
		{"verification", func(c *Config) { c.Gate.Verification = "crc" }},
		{"mirror backend", func(c *Config) { c.Mirror.Backend = "ftp" }},
		{"local mirror path", func(c *Config) { c.Mirror.Backend = MirrorLocal }},
		{"minio bucket", func(c *Config) { c.Mirror.Backend = MirrorMinio }},
		{"codec", func(c *Config) { c.Mirror.Codec = "brotli" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)
		})
	}
}

func TestWriteDefaultTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "adadisk.yaml")

	created, err := WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = WriteDefaultTemplate(path)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Params(), cfg.Params())
	assert.Equal(t, Default().Search, cfg.Search)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Build.Timeout = 3 * time.Minute

	require.NoError(t, cfg.SaveToFile(path))
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	file := filepath.Join(t.TempDir(), "adadisk.log")
	logger, closer, err = LogConfig{Level: "info", Format: "text", File: file}.Logger(&buf)
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/adadisk"
	cfg.Audit.Path = ""
	cfg.Search.Threads = 0

	require.NoError(t, cfg.Normalize())
	assert.Equal(t, filepath.Join("/srv/adadisk", "audit.db"), cfg.Audit.Path)
	assert.Equal(t, cfg.Build.T, cfg.Search.Threads)

	cfg.Engine.Kind = "faiss"
	assert.ErrorIs(t, cfg.Normalize(), adadisk.ErrInvalidArgument)
}
