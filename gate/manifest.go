package gate

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/namespace"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// Manifest records a finished build. It is written after every other
// artifact, so its presence means the build completed.
type Manifest struct {
	Version   int            `yaml:"version"`
	Engine    string         `yaml:"engine"`
	Variant   string         `yaml:"variant"`
	CreatedAt time.Time      `yaml:"created_at"`
	Dataset   DatasetInfo    `yaml:"dataset"`
	Build     BuildInfo      `yaml:"build"`
	Artifacts []ArtifactInfo `yaml:"artifacts"`
}

// DatasetInfo describes the dataset an index was built from.
type DatasetInfo struct {
	Path      string `yaml:"path"`
	Points    int    `yaml:"points"`
	Dimension int    `yaml:"dimension"`
	Size      int64  `yaml:"size"`
	CRC32     uint32 `yaml:"crc32"`
}

// BuildInfo holds the build parameters.
type BuildInfo struct {
	Metric string  `yaml:"metric"`
	R      int     `yaml:"r"`
	L      int     `yaml:"l"`
	B      float64 `yaml:"b"`
	M      float64 `yaml:"m"`
	T      int     `yaml:"t"`
}

// ArtifactInfo identifies one artifact file by base name, size and CRC32.
type ArtifactInfo struct {
	Name  string `yaml:"name"`
	Size  int64  `yaml:"size"`
	CRC32 uint32 `yaml:"crc32"`
}

// IndexArtifacts lists the entry's finished artifacts: everything under the
// prefix except the manifest and temp files of in-flight writes.
func IndexArtifacts(entry namespace.Entry) ([]string, error) {
	all, err := entry.Artifacts()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p == entry.ManifestPath || strings.HasSuffix(p, ".tmp") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// NewManifest describes the artifacts currently under the entry's prefix.
func NewManifest(fsys fs.FileSystem, entry namespace.Entry, engineName string, req engine.BuildRequest) (*Manifest, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	h, err := dataset.StatFS(fsys, entry.DataPath)
	if err != nil {
		return nil, err
	}
	dataSum, _, err := Checksum(fsys, entry.DataPath)
	if err != nil {
		return nil, err
	}

	paths, err := IndexArtifacts(entry)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:   ManifestVersion,
		Engine:    engineName,
		Variant:   entry.Variant.String(),
		CreatedAt: time.Now().UTC(),
		Dataset: DatasetInfo{
			Path:      filepath.Base(entry.DataPath),
			Points:    h.Points,
			Dimension: h.Dimension,
			Size:      h.Size(),
			CRC32:     dataSum,
		},
		Build: BuildInfo{
			Metric: string(req.Metric),
			R:      req.R,
			L:      req.L,
			B:      req.B,
			M:      req.M,
			T:      req.T,
		},
	}
	for _, p := range paths {
		sum, size, err := Checksum(fsys, p)
		if err != nil {
			return nil, err
		}
		m.Artifacts = append(m.Artifacts, ArtifactInfo{Name: filepath.Base(p), Size: size, CRC32: sum})
	}
	return m, nil
}

// Verify checks the manifest against the entry's dataset and artifacts.
func (m *Manifest) Verify(fsys fs.FileSystem, entry namespace.Entry) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if m.Variant != entry.Variant.String() {
		return fmt.Errorf("manifest is for variant %q, want %q", m.Variant, entry.Variant)
	}

	h, err := dataset.StatFS(fsys, entry.DataPath)
	if err != nil {
		return err
	}
	if h.Points != m.Dataset.Points || h.Dimension != m.Dataset.Dimension {
		return fmt.Errorf("dataset shape (%d, %d) differs from indexed shape (%d, %d)",
			h.Points, h.Dimension, m.Dataset.Points, m.Dataset.Dimension)
	}
	dataSum, _, err := Checksum(fsys, entry.DataPath)
	if err != nil {
		return err
	}
	if dataSum != m.Dataset.CRC32 {
		return fmt.Errorf("dataset %s changed since build (crc %08x; recorded %08x)",
			filepath.Base(entry.DataPath), dataSum, m.Dataset.CRC32)
	}

	sentinel := filepath.Base(entry.SentinelPath)
	listed := false
	for _, a := range m.Artifacts {
		if a.Name == sentinel {
			listed = true
		}
		p := filepath.Join(entry.BaseDir, a.Name)
		sum, size, err := Checksum(fsys, p)
		if err != nil {
			return err
		}
		if size != a.Size || sum != a.CRC32 {
			return fmt.Errorf("artifact %s changed since build (size %d, crc %08x; recorded %d, %08x)",
				a.Name, size, sum, a.Size, a.CRC32)
		}
	}
	if !listed {
		return fmt.Errorf("manifest does not list sentinel %s", sentinel)
	}
	return nil
}

// Checksum returns the CRC32 (IEEE) and size of the file at path.
func Checksum(fsys fs.FileSystem, path string) (uint32, int64, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, 0, adadisk.NewIOError("open", path, err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, adadisk.NewIOError("read", path, err)
	}
	return h.Sum32(), n, nil
}

// WriteManifest atomically writes m to path.
func WriteManifest(fsys fs.FileSystem, path string, m *Manifest) error {
	if fsys == nil {
		fsys = fs.Default
	}
	data, err := MarshalManifest(m)
	if err != nil {
		return err
	}
	err = fs.WriteFileAtomic(fsys, path, 0644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return adadisk.NewIOError("write", path, err)
	}
	return fs.SyncDir(fsys, filepath.Dir(path))
}

// ReadManifest reads the manifest at path.
func ReadManifest(fsys fs.FileSystem, path string) (*Manifest, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, adadisk.NewIOError("open", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, adadisk.NewIOError("read", path, err)
	}

	m, err := UnmarshalManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// MarshalManifest encodes m as YAML.
func MarshalManifest(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

// UnmarshalManifest decodes a YAML manifest and checks its version.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, ManifestVersion)
	}
	return &m, nil
}

// RemoveManifest deletes the manifest at path. A missing manifest is not an error.
func RemoveManifest(fsys fs.FileSystem, path string) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return adadisk.NewIOError("remove", path, err)
	}
	return nil
}
