// Package compress frames a byte stream into independently compressed blocks.
//
// Each block is [uncompressed size uint32][compressed size uint32][data]. A
// compressed size of 0 marks a block stored raw because compression did not
// pay off.
package compress

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is a block compression algorithm.
type Codec uint8

const (
	None Codec = iota
	LZ4
	Zstd
)

// DefaultBlockSize is the uncompressed size of a block.
const DefaultBlockSize = 256 * 1024

const (
	blockHeaderSize = 8
	maxBlockSize    = 64 << 20
)

// ErrCorrupt is returned for malformed block streams.
var ErrCorrupt = errors.New("compress: corrupt block stream")

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// Ext returns the file name extension for the codec.
func (c Codec) Ext() string {
	switch c {
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// ParseCodec parses "none", "lz4" or "zstd".
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown codec %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func compressBlock(c Codec, src []byte) ([]byte, error) {
	switch c {
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case Zstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(src, nil), nil
	default:
		return nil, nil
	}
}

func decompressBlock(c Codec, src []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	switch c {
	case LZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, ErrCorrupt
		}
		return dst, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(src, dst[:0])
		if err != nil {
			return nil, err
		}
		if len(out) != size {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with codec %s", ErrCorrupt, c)
	}
}

// Writer compresses blocks to an underlying writer.
type Writer struct {
	w         io.Writer
	codec     Codec
	blockSize int
	buf       []byte
	written   int64
}

// NewWriter returns a Writer. blockSize <= 0 means DefaultBlockSize.
func NewWriter(w io.Writer, codec Codec, blockSize int) *Writer {
	if blockSize <= 0 || blockSize > maxBlockSize {
		blockSize = DefaultBlockSize
	}
	return &Writer{w: w, codec: codec, blockSize: blockSize, buf: make([]byte, 0, blockSize)}
}

func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := min(len(p), c.blockSize-len(c.buf))
		c.buf = append(c.buf, p[:n]...)
		total += n
		p = p[n:]
		if len(c.buf) == c.blockSize {
			if err := c.flushBlock(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Writer) flushBlock() error {
	if len(c.buf) == 0 {
		return nil
	}

	compressed, err := compressBlock(c.codec, c.buf)
	if err != nil {
		return err
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(c.buf)))
	payload := c.buf
	// Keep blocks raw unless compression saves at least 10%.
	if len(compressed) > 0 && float64(len(compressed)) <= float64(len(c.buf))*0.9 {
		binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
		payload = compressed
	}

	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	c.written += int64(blockHeaderSize + len(payload))
	c.buf = c.buf[:0]
	return nil
}

// Close flushes the last block. It does not close the underlying writer.
func (c *Writer) Close() error {
	return c.flushBlock()
}

// BytesWritten returns the number of framed bytes written so far.
func (c *Writer) BytesWritten() int64 {
	return c.written
}

// Reader decompresses a block stream.
type Reader struct {
	r     *bufio.Reader
	codec Codec
	block []byte
	off   int
	err   error
}

// NewReader returns a Reader for a stream written with codec.
func NewReader(r io.Reader, codec Codec) *Reader {
	return &Reader{r: bufio.NewReader(r), codec: codec}
}

func (c *Reader) Read(p []byte) (int, error) {
	for c.off == len(c.block) {
		if c.err != nil {
			return 0, c.err
		}
		c.err = c.next()
	}
	n := copy(p, c.block[c.off:])
	c.off += n
	return n, nil
}

func (c *Reader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrCorrupt
		}
		return err
	}
	size := int(binary.LittleEndian.Uint32(hdr[0:]))
	csize := int(binary.LittleEndian.Uint32(hdr[4:]))
	if size == 0 || size > maxBlockSize || csize > maxBlockSize {
		return ErrCorrupt
	}

	raw := csize
	if raw == 0 {
		raw = size
	}
	payload := make([]byte, raw)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return ErrCorrupt
	}

	c.off = 0
	if csize == 0 {
		c.block = payload
		return nil
	}
	block, err := decompressBlock(c.codec, payload, size)
	if err != nil {
		return err
	}
	c.block = block
	return nil
}
