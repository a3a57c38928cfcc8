package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable blobs.
type Store interface {
	// Put stores the content of r under name, replacing any previous blob.
	// size is the content length, or -1 if unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get opens a blob for reading.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat returns the size of a blob.
	Stat(ctx context.Context, name string) (int64, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
