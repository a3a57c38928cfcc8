package namespace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
)

func TestResolve_Layout(t *testing.T) {
	ns := New("./hpdic_data", DiskResident)

	e, err := ns.Resolve(RoleIngest, "")
	require.NoError(t, err)

	assert.Equal(t, "raw", e.Dataset)
	assert.Equal(t, filepath.Join("hpdic_data", "ingest_raw.bin"), e.DataPath)
	assert.Equal(t, filepath.Join("hpdic_data", "ingest_raw_index"), e.IndexPrefix)
	assert.Equal(t, filepath.Join("hpdic_data", "ingest_raw_index_disk.index"), e.SentinelPath)
	assert.Equal(t, filepath.Join("hpdic_data", "ingest_raw_index_manifest.yaml"), e.ManifestPath)
	assert.Equal(t, filepath.Join("hpdic_data", ".ingest_raw.lock"), e.LockPath)
	assert.Equal(t, "ingest_raw", e.Name())
}

func TestResolve_InMemorySentinel(t *testing.T) {
	e, err := New("data", InMemory).Resolve(RoleQuery, "raw")
	require.NoError(t, err)
	assert.Equal(t, e.IndexPrefix, e.SentinelPath)
}

func TestResolve_Deterministic(t *testing.T) {
	ns := New("data", DiskResident)
	a, err := ns.Resolve(RoleQuery, "batch-1")
	require.NoError(t, err)
	b, err := ns.Resolve(RoleQuery, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolve_NoCollisions(t *testing.T) {
	ns := New("data", DiskResident)
	roles := []Role{RoleIngest, RoleQuery, "ingest-2"}
	datasets := []string{"raw", "raw-index", "index", "a", "a-b"}

	seen := map[string]string{}
	for _, r := range roles {
		for _, d := range datasets {
			e, err := ns.Resolve(r, d)
			require.NoError(t, err)
			for _, p := range []string{e.DataPath, e.IndexPrefix, e.SentinelPath, e.ManifestPath, e.LockPath} {
				owner := e.Name()
				if prev, ok := seen[p]; ok {
					t.Fatalf("path %s shared by %s and %s", p, prev, owner)
				}
				seen[p] = owner
			}
		}
	}
}

func TestResolve_InvalidNames(t *testing.T) {
	ns := New("data", DiskResident)

	for _, tc := range []struct {
		role    Role
		dataset string
	}{
		{"", "raw"},
		{"In_gest", "raw"},
		{"query", "../etc"},
		{"query", "raw_index"},
		{"query", "-raw"},
		{"query/x", "raw"},
	} {
		_, err := ns.Resolve(tc.role, tc.dataset)
		assert.ErrorIs(t, err, adadisk.ErrInvalidArgument, "%q/%q", tc.role, tc.dataset)
	}
}

func TestEntry_Artifacts(t *testing.T) {
	dir := t.TempDir()
	ns := New(dir, DiskResident)

	q, err := ns.Resolve(RoleQuery, "raw")
	require.NoError(t, err)
	other, err := ns.Resolve(RoleQuery, "raw-2")
	require.NoError(t, err)

	none, err := q.Artifacts()
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, p := range []string{
		q.DataPath,
		q.SentinelPath,
		Artifact(q.IndexPrefix, SuffixPQPivots),
		Artifact(q.IndexPrefix, SuffixPQCompressed),
		other.SentinelPath,
	} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	got, err := q.Artifacts()
	require.NoError(t, err)
	assert.Equal(t, []string{
		Artifact(q.IndexPrefix, SuffixDiskIndex),
		Artifact(q.IndexPrefix, SuffixPQCompressed),
		Artifact(q.IndexPrefix, SuffixPQPivots),
	}, got)
}

func TestEntry_TempFiles(t *testing.T) {
	dir := t.TempDir()
	ns := New(dir, DiskResident)

	q, err := ns.Resolve(RoleQuery, "raw")
	require.NoError(t, err)
	other, err := ns.Resolve(RoleQuery, "raw-2")
	require.NoError(t, err)

	none, err := q.TempFiles()
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, p := range []string{
		q.DataPath,
		q.DataPath + ".10-1.tmp",
		q.SentinelPath + ".10-2.tmp",
		q.SentinelPath,
		other.DataPath + ".10-3.tmp",
		filepath.Join(dir, "unrelated.tmp"),
	} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(q.IndexPrefix+"_dir.tmp", 0755))

	got, err := q.TempFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{q.DataPath + ".10-1.tmp", q.SentinelPath + ".10-2.tmp"}, got)

	missing, err := New(filepath.Join(dir, "absent"), DiskResident).Resolve(RoleQuery, "raw")
	require.NoError(t, err)
	got, err = missing.TempFiles()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntry_ArtifactsMissingBaseDir(t *testing.T) {
	e, err := New(filepath.Join(t.TempDir(), "absent"), DiskResident).Resolve(RoleIngest, "raw")
	require.NoError(t, err)

	got, err := e.Artifacts()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnsureBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	ns := New(dir, DiskResident)
	require.NoError(t, ns.EnsureBaseDir())
	require.NoError(t, ns.EnsureBaseDir())
	assert.DirExists(t, dir)
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("memory")
	require.NoError(t, err)
	assert.Equal(t, InMemory, v)
	assert.Equal(t, "memory", v.String())

	v, err = ParseVariant("")
	require.NoError(t, err)
	assert.Equal(t, DiskResident, v)

	_, err = ParseVariant("ssd")
	assert.ErrorIs(t, err, adadisk.ErrInvalidArgument)
}
