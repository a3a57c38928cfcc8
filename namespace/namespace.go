// Package namespace derives every dataset and index path from a role name and
// a dataset name. No other package constructs these paths.
//
// Layout inside the base directory for role "query" and dataset "raw":
//
//	query_raw.bin                   dataset
//	query_raw_index*                index artifact set (prefix query_raw_index)
//	query_raw_index_disk.index      sentinel (disk-resident variant)
//	query_raw_index_manifest.yaml   completion manifest
//	.query_raw.lock                 ensure-ready lock
//
// Role and dataset names are restricted to lowercase letters, digits and '-',
// so the first '_' always separates them and distinct entries never collide.
package namespace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hupe1980/adadisk"
)

// Role names an agent role.
type Role string

const (
	// RoleIngest is the producer role.
	RoleIngest Role = "ingest"
	// RoleQuery is the consumer role.
	RoleQuery Role = "query"
)

const (
	// DefaultBaseDir is the shared data directory.
	DefaultBaseDir = "./hpdic_data"
	// DefaultDataset is the dataset name used when none is given.
	DefaultDataset = "raw"
)

// Artifact suffixes appended to an index prefix.
const (
	SuffixDiskIndex    = "_disk.index"
	SuffixPQPivots     = "_pq_pivots.bin"
	SuffixPQCompressed = "_pq_compressed.bin"
	SuffixMemData      = ".data"
	SuffixManifest     = "_manifest.yaml"
)

// Variant selects the index layout and therefore the sentinel artifact.
type Variant int

const (
	// DiskResident indexes keep full vectors and the graph on disk (sentinel {prefix}_disk.index).
	DiskResident Variant = iota
	// InMemory indexes load the whole graph into memory (sentinel is the graph file {prefix}).
	InMemory
)

func (v Variant) String() string {
	switch v {
	case DiskResident:
		return "disk"
	case InMemory:
		return "memory"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant parses "disk" or "memory".
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "disk", "":
		return DiskResident, nil
	case "memory":
		return InMemory, nil
	default:
		return 0, fmt.Errorf("%w: unknown index variant %q", adadisk.ErrInvalidArgument, s)
	}
}

// SentinelSuffix returns the suffix of the artifact whose presence marks a finished build.
func (v Variant) SentinelSuffix() string {
	if v == InMemory {
		return ""
	}
	return SuffixDiskIndex
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateName checks a role or dataset name.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s name %q must match %s", adadisk.ErrInvalidArgument, kind, name, namePattern)
	}
	return nil
}

// Namespace maps (role, dataset) pairs to paths in one base directory.
type Namespace struct {
	baseDir string
	variant Variant
}

// New returns a Namespace rooted at baseDir. An empty baseDir means DefaultBaseDir.
func New(baseDir string, variant Variant) *Namespace {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	return &Namespace{baseDir: filepath.Clean(baseDir), variant: variant}
}

// BaseDir returns the base data directory.
func (n *Namespace) BaseDir() string { return n.baseDir }

// Variant returns the index variant of the namespace.
func (n *Namespace) Variant() Variant { return n.variant }

// EnsureBaseDir creates the base directory if absent.
func (n *Namespace) EnsureBaseDir() error {
	return adadisk.NewIOError("mkdir", n.baseDir, os.MkdirAll(n.baseDir, 0755))
}

// Resolve derives the paths of one namespace entry. It is pure and deterministic.
func (n *Namespace) Resolve(role Role, dataset string) (Entry, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	if err := ValidateName("role", string(role)); err != nil {
		return Entry{}, err
	}
	if err := ValidateName("dataset", dataset); err != nil {
		return Entry{}, err
	}

	stem := string(role) + "_" + dataset
	prefix := filepath.Join(n.baseDir, stem+"_index")

	return Entry{
		Role:         role,
		Dataset:      dataset,
		Variant:      n.variant,
		BaseDir:      n.baseDir,
		DataPath:     filepath.Join(n.baseDir, stem+".bin"),
		IndexPrefix:  prefix,
		SentinelPath: Artifact(prefix, n.variant.SentinelSuffix()),
		ManifestPath: Artifact(prefix, SuffixManifest),
		LockPath:     filepath.Join(n.baseDir, "."+stem+".lock"),
	}, nil
}

// Artifact names the artifact of an index prefix with the given suffix.
func Artifact(prefix, suffix string) string {
	return prefix + suffix
}

// Entry holds the resolved paths of a (role, dataset) pair.
type Entry struct {
	Role         Role
	Dataset      string
	Variant      Variant
	BaseDir      string
	DataPath     string
	IndexPrefix  string
	SentinelPath string
	ManifestPath string
	LockPath     string
}

// Name returns the "{role}_{dataset}" stem, used as a stable key for the entry.
func (e Entry) Name() string {
	return string(e.Role) + "_" + e.Dataset
}

// Artifacts lists the files currently present under the index prefix, sorted.
// Temp files of in-flight atomic writes are included.
func (e Entry) Artifacts() ([]string, error) {
	entries, err := os.ReadDir(e.BaseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, adadisk.NewIOError("readdir", e.BaseDir, err)
	}

	base := filepath.Base(e.IndexPrefix)

	var out []string
	for _, de := range entries {
		if de.Type().IsRegular() && strings.HasPrefix(de.Name(), base) {
			out = append(out, filepath.Join(e.BaseDir, de.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// TempFiles lists temp files left next to the dataset or under the index
// prefix by atomic writes, sorted.
func (e Entry) TempFiles() ([]string, error) {
	if _, err := os.Stat(e.BaseDir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	pattern := fmt.Sprintf("{%s,%s}*.tmp", filepath.Base(e.DataPath), filepath.Base(e.IndexPrefix))
	names, err := doublestar.Glob(os.DirFS(e.BaseDir), pattern, doublestar.WithFailOnIOErrors(), doublestar.WithFilesOnly())
	if err != nil {
		return nil, adadisk.NewIOError("glob", e.BaseDir, err)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(e.BaseDir, name))
	}
	sort.Strings(out)
	return out, nil
}
