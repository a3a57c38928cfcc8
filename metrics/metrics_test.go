package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(c *Collector) {
	c.RecordGenerate("ingest", 100, 8, time.Second, nil)
	c.RecordGenerate("ingest", 100, 8, time.Second, errors.New("disk full"))
	c.RecordBuild("ingest", 2*time.Second, nil)
	c.RecordLoad(time.Millisecond, nil)
	c.RecordSearch(5, time.Millisecond, nil)
	c.RecordSearch(5, time.Millisecond, errors.New("dimension mismatch"))
	c.RecordGate("query", "build", true)
	c.RecordGate("query", "generate", false)
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	record(c)

	path := filepath.Join(t.TempDir(), "adadisk.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `adadisk_datasets_generated_total{role="ingest",status="success"} 1`)
	assert.Contains(t, text, `adadisk_datasets_generated_total{role="ingest",status="error"} 1`)
	assert.Contains(t, text, `adadisk_dataset_bytes_written_total{role="ingest"} 3208`)
	assert.Contains(t, text, `adadisk_index_builds_total{role="ingest",status="success"} 1`)
	assert.Contains(t, text, `adadisk_index_loads_total{status="success"} 1`)
	assert.Contains(t, text, `adadisk_searches_total{status="error"} 1`)
	assert.Contains(t, text, `adadisk_search_duration_seconds_count 1`)
	assert.Contains(t, text, `adadisk_gate_decisions_total{decision="skip",role="query",step="build"} 1`)
	assert.Contains(t, text, `adadisk_gate_decisions_total{decision="run",role="query",step="generate"} 1`)
}

func TestCollector_WriteTextfileMissingDir(t *testing.T) {
	c := New()
	err := c.WriteTextfile(filepath.Join(t.TempDir(), "absent", "adadisk.prom"))
	assert.Error(t, err)
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	record(c)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "adadisk_index_build_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCollectors_AreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordLoad(0, nil)

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		assert.NotEqual(t, "adadisk_index_loads_total", mf.GetName())
	}
}
