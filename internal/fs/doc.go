// Package fs provides filesystem abstractions for testability and fault injection.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects write, sync, rename and open failures
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("ingest_raw.bin", fs.Fault{FailAfterBytes: 1024})
//
// Operations take no context.Context. Local filesystem calls are not
// interruptible at the syscall level; slow remote storage lives behind
// blobstore.Store instead.
package fs
