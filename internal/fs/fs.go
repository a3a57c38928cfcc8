package fs

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// File represents an open file.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	Sync() error
	Stat() (os.FileInfo, error)
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Default is the default local file system.
var Default FileSystem = LocalFS{}

// Exists reports whether name exists as a regular file.
func Exists(fsys FileSystem, name string) bool {
	info, err := fsys.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// SyncDir fsyncs a directory so a preceding rename survives a crash.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

var tmpSeq atomic.Uint64

// TempName returns a temp path next to name that is unique within the host,
// so concurrent writers of the same file never share one.
func TempName(name string) string {
	return fmt.Sprintf("%s.%d-%d.tmp", name, os.Getpid(), tmpSeq.Add(1))
}

// WriteFileAtomic writes name via a temp file that is synced and renamed into place.
// Readers observe either the previous content or the complete new content.
func WriteFileAtomic(fsys FileSystem, name string, perm os.FileMode, write func(io.Writer) error) error {
	tmp := TempName(name)
	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return err
	}

	if err := fsys.Rename(tmp, name); err != nil {
		fsys.Remove(tmp)
		return err
	}
	return nil
}
