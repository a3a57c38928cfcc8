package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/blobstore"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/internal/compress"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/internal/resource"
	"github.com/hupe1980/adadisk/namespace"
	"github.com/hupe1980/adadisk/orchestrator"
)

// Blob names below the mirror key of an entry.
const (
	mirrorManifest = "manifest.yaml"
	mirrorDataset  = "data.bin"
	mirrorIndex    = "index"
)

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithMirrorFileSystem sets the local file system.
func WithMirrorFileSystem(fsys fs.FileSystem) MirrorOption {
	return func(m *Mirror) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithMirrorResourceController rate limits restore writes.
func WithMirrorResourceController(rc *resource.Controller) MirrorOption {
	return func(m *Mirror) { m.rc = rc }
}

// WithMirrorLogger sets the logger.
func WithMirrorLogger(l *adadisk.Logger) MirrorOption {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mirror copies complete datasets and indexes between a data directory and a
// blob store. Blobs are keyed by dataset and variant, not role, so an index
// published by the producer can be restored into the consumer's entry.
//
//	{dataset}/{variant}/data.bin[.zst]
//	{dataset}/{variant}/index{suffix}[.zst]
//	{dataset}/{variant}/manifest.yaml
//
// The manifest is uploaded last and removed first, so a store that holds a
// manifest holds every blob it lists.
type Mirror struct {
	store  blobstore.Store
	codec  compress.Codec
	fsys   fs.FileSystem
	rc     *resource.Controller
	logger *adadisk.Logger
}

// NewMirror returns a Mirror on store that compresses blobs with codec.
func NewMirror(store blobstore.Store, codec compress.Codec, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		store:  store,
		codec:  codec,
		fsys:   fs.Default,
		logger: adadisk.NoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func mirrorKey(entry namespace.Entry, name string) string {
	return path.Join(entry.Dataset, entry.Variant.String(), name)
}

func (m *Mirror) blobName(entry namespace.Entry, name string) string {
	return mirrorKey(entry, name) + m.codec.Ext()
}

// artifactSuffix strips the index prefix stem from an artifact base name.
func artifactSuffix(prefixBase, name string) (string, error) {
	suffix, ok := strings.CutPrefix(name, prefixBase)
	if !ok {
		return "", fmt.Errorf("%w: artifact %s is not under prefix %s", adadisk.ErrLoadFailure, name, prefixBase)
	}
	return suffix, nil
}

// Publish uploads the entry's dataset and verified index, manifest last.
func (m *Mirror) Publish(ctx context.Context, entry namespace.Entry) error {
	local, err := gate.ReadManifest(m.fsys, entry.ManifestPath)
	if err != nil {
		return err
	}
	if err := local.Verify(m.fsys, entry); err != nil {
		return fmt.Errorf("refusing to publish incomplete index: %w", err)
	}

	if err := m.store.Delete(ctx, mirrorKey(entry, mirrorManifest)); err != nil {
		return err
	}

	remote := *local
	remote.Dataset.Path = mirrorDataset
	remote.Artifacts = make([]gate.ArtifactInfo, len(local.Artifacts))

	if err := m.upload(ctx, m.blobName(entry, mirrorDataset), entry.DataPath); err != nil {
		return err
	}

	prefixBase := filepath.Base(entry.IndexPrefix)
	for i, a := range local.Artifacts {
		suffix, err := artifactSuffix(prefixBase, a.Name)
		if err != nil {
			return err
		}
		name := mirrorIndex + suffix
		if err := m.upload(ctx, m.blobName(entry, name), filepath.Join(entry.BaseDir, a.Name)); err != nil {
			return err
		}
		remote.Artifacts[i] = gate.ArtifactInfo{Name: name, Size: a.Size, CRC32: a.CRC32}
	}

	data, err := gate.MarshalManifest(&remote)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, mirrorKey(entry, mirrorManifest), bytes.NewReader(data), int64(len(data))); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "index published", "entry", entry.Name(), "artifacts", len(remote.Artifacts),
		"codec", m.codec.String())
	return nil
}

func (m *Mirror) upload(ctx context.Context, name, src string) error {
	f, err := m.fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return adadisk.NewIOError("open", src, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()

	var g errgroup.Group
	g.Go(func() error {
		cw := compress.NewWriter(pw, m.codec, compress.DefaultBlockSize)
		_, err := io.Copy(cw, f)
		if err == nil {
			err = cw.Close()
		}
		pw.CloseWithError(err)
		return err
	})

	putErr := m.store.Put(ctx, name, pr, -1)
	// Unblocks the compressor if the store stopped reading early.
	pr.CloseWithError(putErr)
	copyErr := g.Wait()

	if putErr != nil {
		return fmt.Errorf("upload %s: %w", name, putErr)
	}
	if copyErr != nil {
		return adadisk.NewIOError("read", src, copyErr)
	}
	return nil
}

// Restore downloads the mirrored dataset and index into entry, replacing
// whatever the entry holds. It returns false without error when the store has
// no complete index for the entry's dataset and variant.
func (m *Mirror) Restore(ctx context.Context, entry namespace.Entry) (bool, error) {
	remote, err := m.readManifest(ctx, entry)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if remote.Variant != entry.Variant.String() {
		return false, nil
	}

	if err := orchestrator.RemoveArtifacts(m.fsys, entry); err != nil {
		return false, err
	}

	restored, err := m.restore(ctx, entry, remote)
	if err != nil {
		if rmErr := orchestrator.RemoveArtifacts(m.fsys, entry); rmErr != nil {
			m.logger.WarnContext(ctx, "removing partial restore failed", "entry", entry.Name(), "error", rmErr)
		}
		return false, err
	}
	if err := restored.Verify(m.fsys, entry); err != nil {
		if rmErr := orchestrator.RemoveArtifacts(m.fsys, entry); rmErr != nil {
			m.logger.WarnContext(ctx, "removing corrupt restore failed", "entry", entry.Name(), "error", rmErr)
		}
		return false, fmt.Errorf("restored index does not match mirror manifest: %w", err)
	}

	m.logger.InfoContext(ctx, "index restored", "entry", entry.Name(), "artifacts", len(restored.Artifacts))
	return true, nil
}

func (m *Mirror) readManifest(ctx context.Context, entry namespace.Entry) (*gate.Manifest, error) {
	rc, err := m.store.Get(ctx, mirrorKey(entry, mirrorManifest))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return gate.UnmarshalManifest(data)
}

// restore downloads every blob and writes the entry's manifest last.
func (m *Mirror) restore(ctx context.Context, entry namespace.Entry, remote *gate.Manifest) (*gate.Manifest, error) {
	if err := m.fsys.MkdirAll(entry.BaseDir, 0755); err != nil {
		return nil, adadisk.NewIOError("mkdir", entry.BaseDir, err)
	}

	local := *remote
	local.Dataset.Path = filepath.Base(entry.DataPath)
	local.Artifacts = make([]gate.ArtifactInfo, len(remote.Artifacts))

	if err := m.download(ctx, m.blobName(entry, mirrorDataset), entry.DataPath); err != nil {
		return nil, err
	}

	prefixBase := filepath.Base(entry.IndexPrefix)
	for i, a := range remote.Artifacts {
		suffix, err := artifactSuffix(mirrorIndex, a.Name)
		if err != nil {
			return nil, err
		}
		dst := namespace.Artifact(entry.IndexPrefix, suffix)
		if err := m.download(ctx, m.blobName(entry, a.Name), dst); err != nil {
			return nil, err
		}
		local.Artifacts[i] = gate.ArtifactInfo{Name: prefixBase + suffix, Size: a.Size, CRC32: a.CRC32}
	}

	if err := gate.WriteManifest(m.fsys, entry.ManifestPath, &local); err != nil {
		return nil, err
	}
	return &local, nil
}

func (m *Mirror) download(ctx context.Context, name, dst string) error {
	rc, err := m.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer rc.Close()

	cr := compress.NewReader(rc, m.codec)
	err = fs.WriteFileAtomic(m.fsys, dst, 0644, func(w io.Writer) error {
		_, err := io.Copy(resource.NewRateLimitedWriter(ctx, w, m.rc), cr)
		return err
	})
	if err != nil {
		return adadisk.NewIOError("write", dst, err)
	}
	return nil
}
