package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/internal/fs"
)

// HeaderSize is the size of the (N, D) header in bytes.
const HeaderSize = 8

// ErrMalformed is returned when a file's header and length disagree.
var ErrMalformed = errors.New("malformed dataset file")

// Header describes a dataset's shape.
type Header struct {
	Points    int
	Dimension int
}

// Size returns the exact file size a dataset with this header must have.
func (h Header) Size() int64 {
	return HeaderSize + 4*int64(h.Points)*int64(h.Dimension)
}

// Validate checks that the shape is representable in the file format.
func (h Header) Validate() error {
	if h.Points <= 0 || h.Dimension <= 0 {
		return fmt.Errorf("%w: points and dimension must be positive, got (%d, %d)",
			adadisk.ErrInvalidArgument, h.Points, h.Dimension)
	}
	if h.Points > math.MaxInt32 || h.Dimension > math.MaxInt32 {
		return fmt.Errorf("%w: points and dimension must fit in int32, got (%d, %d)",
			adadisk.ErrInvalidArgument, h.Points, h.Dimension)
	}
	return nil
}

func (h Header) encode() []byte {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(h.Points)))
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(h.Dimension)))
	return b[:]
}

func decodeHeader(b []byte) Header {
	return Header{
		Points:    int(int32(binary.LittleEndian.Uint32(b[0:4]))),
		Dimension: int(int32(binary.LittleEndian.Uint32(b[4:8]))),
	}
}

// ReadHeader reads the (N, D) header of the file at path.
func ReadHeader(path string) (Header, error) {
	return readHeaderFS(fs.Default, path)
}

func readHeaderFS(fsys fs.FileSystem, path string) (Header, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Header{}, adadisk.NewIOError("open", path, err)
	}
	defer f.Close()

	var b [HeaderSize]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %s: short header: %v", ErrMalformed, path, err)
	}
	return decodeHeader(b[:]), nil
}

// Stat reads the header of path and verifies the 8+4*N*D size invariant.
func Stat(path string) (Header, error) {
	return StatFS(fs.Default, path)
}

// StatFS is Stat on an explicit file system.
func StatFS(fsys fs.FileSystem, path string) (Header, error) {
	h, err := readHeaderFS(fsys, path)
	if err != nil {
		return Header{}, err
	}
	if h.Points <= 0 || h.Dimension <= 0 {
		return Header{}, fmt.Errorf("%w: %s: invalid shape (%d, %d)", ErrMalformed, path, h.Points, h.Dimension)
	}

	info, err := fsys.Stat(path)
	if err != nil {
		return Header{}, adadisk.NewIOError("stat", path, err)
	}
	if info.Size() != h.Size() {
		return Header{}, fmt.Errorf("%w: %s: size %d, expected %d for (%d, %d)",
			ErrMalformed, path, info.Size(), h.Size(), h.Points, h.Dimension)
	}
	return h, nil
}
