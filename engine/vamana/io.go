package vamana

import (
	"bufio"
	"io"

	"github.com/hupe1980/adadisk/internal/fs"
)

// writeAtomic writes path through a buffered temp file renamed into place.
func writeAtomic(fsys fs.FileSystem, path string, fn func(w *bufio.Writer) error) error {
	return fs.WriteFileAtomic(fsys, path, 0644, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 256*1024)
		if err := fn(bw); err != nil {
			return err
		}
		return bw.Flush()
	})
}
