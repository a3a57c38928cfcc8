package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/internal/mmap"
)

// File is a read-only, memory-mapped dataset.
type File struct {
	m      *mmap.Mapping
	header Header
}

// Open maps the dataset at path after validating its size invariant.
func Open(path string) (*File, error) {
	h, err := Stat(path)
	if err != nil {
		return nil, err
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, adadisk.NewIOError("mmap", path, err)
	}
	_ = m.Advise(mmap.AccessSequential)

	return &File{m: m, header: h}, nil
}

// Header returns the dataset shape.
func (f *File) Header() Header { return f.header }

// Points returns N.
func (f *File) Points() int { return f.header.Points }

// Dimension returns D.
func (f *File) Dimension() int { return f.header.Dimension }

// Row decodes row i into dst (allocated if too small) and returns it.
func (f *File) Row(i int, dst []float32) ([]float32, error) {
	if i < 0 || i >= f.header.Points {
		return nil, fmt.Errorf("%w: row %d out of range [0,%d)", adadisk.ErrInvalidArgument, i, f.header.Points)
	}
	data := f.m.Bytes()
	if data == nil {
		return nil, mmap.ErrClosed
	}

	d := f.header.Dimension
	if cap(dst) < d {
		dst = make([]float32, d)
	}
	dst = dst[:d]

	off := HeaderSize + 4*i*d
	for j := range dst {
		dst[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4*j:]))
	}
	return dst, nil
}

// Vectors decodes the whole dataset into one contiguous row-major slice.
func (f *File) Vectors() ([]float32, error) {
	n, d := f.header.Points, f.header.Dimension
	out := make([]float32, n*d)
	for i := 0; i < n; i++ {
		if _, err := f.Row(i, out[i*d:(i+1)*d]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close unmaps the file.
func (f *File) Close() error {
	return f.m.Close()
}
