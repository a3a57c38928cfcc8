package blobstore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ifs "github.com/hupe1980/adadisk/internal/fs"
)

// LocalStore implements Store on a local directory. Blob names may contain
// '/' separators, which map to subdirectories.
type LocalStore struct {
	root string
	fsys ifs.FileSystem
}

// NewLocalStore creates a LocalStore rooted at root.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root, fsys: ifs.Default}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Put writes the blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(name)
	if err := s.fsys.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return ifs.WriteFileAtomic(s.fsys, p, 0644, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// Get opens the blob file.
func (s *LocalStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := s.fsys.OpenFile(s.path(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat returns the blob size.
func (s *LocalStore) Stat(_ context.Context, name string) (int64, error) {
	info, err := s.fsys.Stat(s.path(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes the blob file.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := s.fsys.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List walks the root directory. Temp files of in-flight writes are skipped.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
