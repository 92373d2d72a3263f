package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/bitcask/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4GuessSize caps buffer growth in Decompress, where the raw length
// is unknown.
const maxLZ4GuessSize = 64 << 20

// LZ4Compressor uses the LZ4 block format.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	if len(src) == 0 {
		return nil
	}
	bound := lz4.CompressBlockBound(len(src))
	dst.Grow(bound)
	out := dst.AvailableBuffer()[:bound]
	n, err := lz4.CompressBlock(src, out, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 {
		// Incompressible input. Store it as a single literal run so the
		// block still decodes with UncompressBlock.
		return c.literalBlock(dst, src)
	}
	dst.Write(out[:n])
	return nil
}

// literalBlock writes src as one LZ4 sequence of literals with no match.
func (c *LZ4Compressor) literalBlock(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	n := len(src)
	if n < 15 {
		dst.WriteByte(byte(n << 4))
	} else {
		dst.WriteByte(0xF0)
		rest := n - 15
		for rest >= 255 {
			dst.WriteByte(255)
			rest -= 255
		}
		dst.WriteByte(byte(rest))
	}
	dst.Write(src)
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	size := len(data) * 4
	if size < 1024 {
		size = 1024
	}
	for {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return io.NopCloser(bytes.NewReader(dst[:n])), nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) || size >= maxLZ4GuessSize {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		size *= 2
	}
}

func (c *LZ4Compressor) DecompressBlock(src []byte, rawLen int) ([]byte, error) {
	if rawLen == 0 {
		if len(src) != 0 {
			return nil, fmt.Errorf("%w: lz4 block of %d bytes for empty input", core.ErrDecompressedSize, len(src))
		}
		return []byte{}, nil
	}
	dst := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: lz4 block holds %d bytes, want %d", core.ErrDecompressedSize, n, rawLen)
	}
	return dst, nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
