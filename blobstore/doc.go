// Package blobstore mirrors dataset and index artifacts to a flat object store.
//
// Store is a minimal streaming interface over named blobs. LocalStore and
// MemoryStore live here; object storage backends are in the minio and s3
// subpackages.
//
//	type Store interface {
//	    Put(ctx, name, r, size) error
//	    Get(ctx, name) (io.ReadCloser, error)
//	    Stat(ctx, name) (int64, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Implementations must be safe for concurrent use. Missing blobs are reported
// with an error satisfying errors.Is(err, ErrNotFound).
package blobstore
