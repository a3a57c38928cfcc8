package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/internal/fs"
)

// Elem is an element type storable in a bin file.
type Elem interface {
	~float32 | ~uint32 | ~uint8 | ~int32 | ~uint64
}

// Matrix is a row-major matrix as stored in a bin file.
type Matrix[T Elem] struct {
	Rows int
	Cols int
	Data []T
}

// Row returns row i as a sub-slice of Data.
func (m Matrix[T]) Row(i int) []T {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// WriteBin writes m as an (int32 rows, int32 cols, data) bin stream.
func WriteBin[T Elem](w io.Writer, m Matrix[T]) error {
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("%w: matrix data has %d elements, want %d",
			adadisk.ErrInvalidArgument, len(m.Data), m.Rows*m.Cols)
	}
	if _, err := w.Write(Header{Points: m.Rows, Dimension: m.Cols}.encode()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, m.Data)
}

// ReadBin reads a bin stream written by WriteBin.
func ReadBin[T Elem](r io.Reader) (Matrix[T], error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Matrix[T]{}, fmt.Errorf("%w: short header: %v", ErrMalformed, err)
	}
	h := decodeHeader(b[:])
	if h.Points < 0 || h.Dimension < 0 {
		return Matrix[T]{}, fmt.Errorf("%w: invalid shape (%d, %d)", ErrMalformed, h.Points, h.Dimension)
	}

	data := make([]T, h.Points*h.Dimension)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return Matrix[T]{}, fmt.Errorf("%w: truncated data: %v", ErrMalformed, err)
	}
	return Matrix[T]{Rows: h.Points, Cols: h.Dimension, Data: data}, nil
}

// WriteBinFile atomically writes m to path.
func WriteBinFile[T Elem](fsys fs.FileSystem, path string, m Matrix[T]) error {
	if fsys == nil {
		fsys = fs.Default
	}
	err := fs.WriteFileAtomic(fsys, path, 0644, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 256*1024)
		if err := WriteBin(bw, m); err != nil {
			return err
		}
		return bw.Flush()
	})
	return adadisk.NewIOError("write", path, err)
}

// ReadBinFile reads a bin file from path.
func ReadBinFile[T Elem](path string) (Matrix[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return Matrix[T]{}, adadisk.NewIOError("open", path, err)
	}
	defer f.Close()

	m, err := ReadBin[T](bufio.NewReaderSize(f, 256*1024))
	if err != nil {
		return Matrix[T]{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
