package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/adadisk"
)

// SectorLen is the aligned read unit of disk-resident indexes.
const SectorLen = 4096

// DiskIndexMeta is the metadata block at the start of a {prefix}_disk.index file.
//
// The block is a bin header (int32 rows, int32 cols=1) followed by rows uint64
// values in this order. Both engines read Points and Dimension from it at load.
type DiskIndexMeta struct {
	Points         uint64
	Dimension      uint64
	Medoid         uint64
	MaxNodeLen     uint64
	NodesPerSector uint64
	FrozenPoints   uint64
	FrozenLocation uint64
	ReorderData    uint64
	FileSize       uint64
}

const diskMetaFields = 9

// WriteTo writes the metadata block, padded to one sector.
func (m DiskIndexMeta) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, SectorLen)
	binary.LittleEndian.PutUint32(buf[0:4], diskMetaFields)
	binary.LittleEndian.PutUint32(buf[4:8], 1)

	vals := []uint64{
		m.Points, m.Dimension, m.Medoid, m.MaxNodeLen, m.NodesPerSector,
		m.FrozenPoints, m.FrozenLocation, m.ReorderData, m.FileSize,
	}
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8+8*i:], v)
	}

	n, err := w.Write(buf)
	return int64(n), err
}

// ReadDiskIndexMeta reads the metadata block from r.
func ReadDiskIndexMeta(r io.ReaderAt) (DiskIndexMeta, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return DiskIndexMeta{}, fmt.Errorf("read disk index header: %w", err)
	}
	rows := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	if rows < 5 || rows > 64 {
		return DiskIndexMeta{}, fmt.Errorf("disk index header declares %d metadata fields", rows)
	}

	buf := make([]byte, 8*int(rows))
	if _, err := r.ReadAt(buf, 8); err != nil {
		return DiskIndexMeta{}, fmt.Errorf("read disk index metadata: %w", err)
	}

	vals := make([]uint64, diskMetaFields)
	for i := 0; i < int(rows) && i < diskMetaFields; i++ {
		vals[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}

	m := DiskIndexMeta{
		Points: vals[0], Dimension: vals[1], Medoid: vals[2], MaxNodeLen: vals[3],
		NodesPerSector: vals[4], FrozenPoints: vals[5], FrozenLocation: vals[6],
		ReorderData: vals[7], FileSize: vals[8],
	}
	if m.Points == 0 || m.Dimension == 0 {
		return DiskIndexMeta{}, fmt.Errorf("disk index metadata has empty shape (%d, %d)", m.Points, m.Dimension)
	}
	return m, nil
}

// ReadDiskIndexMetaFile reads the metadata of the disk index at path.
// Failures are LoadErrors.
func ReadDiskIndexMetaFile(path string) (DiskIndexMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return DiskIndexMeta{}, &adadisk.LoadError{Prefix: path, Err: err}
	}
	defer f.Close()

	m, err := ReadDiskIndexMeta(f)
	if err != nil {
		return DiskIndexMeta{}, &adadisk.LoadError{Prefix: path, Err: err}
	}
	return m, nil
}

// ValidateSearch checks a request against a loaded index's shape and
// normalizes L to at least K.
func ValidateSearch(req *SearchRequest, dim, points int) error {
	if len(req.Query) != dim {
		return &adadisk.DimensionMismatchError{Expected: dim, Actual: len(req.Query)}
	}
	if req.K <= 0 || req.K > points {
		return fmt.Errorf("%w: k=%d, points=%d", adadisk.ErrInvalidK, req.K, points)
	}
	if req.L < req.K {
		req.L = req.K
	}
	if req.BeamWidth <= 0 {
		req.BeamWidth = 1
	}
	return nil
}
