package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "adadisk.yaml")
	content := fmt.Sprintf(`data_dir: %s
dataset: raw
generate:
  points: 200
  dimension: 8
build:
  r: 16
  l: 32
  t: 2
search:
  k: 5
  l: 20
  beam_width: 2
metrics:
  textfile: %s
log:
  level: error
%s`, filepath.Join(dir, "data"), filepath.Join(dir, "adadisk.prom"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--no-progress"))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRootCmd_Definition(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "adadisk", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "query", "run", "status", "audit", "init"} {
		assert.Contains(t, names, want)
	}

	cfgFlag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "c", cfgFlag.Shorthand)
	assert.Equal(t, "adadisk.yaml", cfgFlag.DefValue)
}

func TestRun_EndToEnd(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "run", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[ACCEPTED] ingest_raw: generated, built")
	assert.Contains(t, out, "[ACCEPTED] query_raw: generated, built, searched; top-1 id=")
	assert.Contains(t, out, "Pipeline succeeded")

	prom, err := os.ReadFile(filepath.Join(filepath.Dir(cfgPath), "adadisk.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "adadisk_index_builds_total")

	t.Run("second query reuses artifacts", func(t *testing.T) {
		out, err := execute(t, "query", "-c", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "[ACCEPTED] query_raw: searched; top-1 id=")
	})

	t.Run("status", func(t *testing.T) {
		out, err := execute(t, "status", "-c", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "ingest_raw")
		assert.Contains(t, out, "query_raw")
		assert.Contains(t, out, "200x8")
		assert.Contains(t, out, "complete")
		assert.NotContains(t, out, "missing")
	})

	t.Run("audit", func(t *testing.T) {
		out, err := execute(t, "audit", "-c", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "query_raw")
		assert.Contains(t, out, "ACCEPTED")

		out, err = execute(t, "audit", "-c", cfgPath, "--summary")
		require.NoError(t, err)
		assert.Contains(t, out, "RESTORED")
		assert.Contains(t, out, "query_raw")
	})
}

func TestStatus_Empty(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "missing")
	assert.NotContains(t, out, "complete")
}

func TestIngestThenQuery_LocalMirror(t *testing.T) {
	mirrorDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`mirror:
  backend: local
  path: %s
  codec: lz4
`, mirrorDir))

	out, err := execute(t, "ingest", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[ACCEPTED] ingest_raw: generated, built, published")

	out, err = execute(t, "query", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[ACCEPTED] query_raw: restored, searched")
}

func TestQuery_Errors(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := execute(t, "query", "-c", cfgPath, "--k", "1000")
	assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)

	_, err = execute(t, "query", "-c", cfgPath, "--query", "1,2,3")
	assert.ErrorIs(t, err, adadisk.ErrDimensionMismatch)

	_, err = execute(t, "query", "-c", cfgPath, "--query", "1,x")
	assert.Error(t, err)

	_, err = execute(t, "query", "-c", cfgPath, "--engine", "faiss")
	assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)
}

func TestQuery_ExplicitVector(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "query", "-c", cfgPath, "--query", "0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8", "--k", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "[ACCEPTED] query_raw")
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "adadisk.yaml")

	out, err := execute(t, "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	assert.FileExists(t, path)

	out, err = execute(t, "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// The template loads.
	_, err = execute(t, "status", "-c", path, "--data-dir", t.TempDir())
	require.NoError(t, err)
}

func TestPipelineFlags_QueryVector(t *testing.T) {
	pf := &pipelineFlags{}
	q, err := pf.queryVector()
	require.NoError(t, err)
	assert.Nil(t, q)

	pf.query = " 1, 2.5 ,-3"
	q, err = pf.queryVector()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2.5, -3}, q)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
