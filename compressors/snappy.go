package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/bitcask/core"
	"github.com/golang/snappy"
)

// SnappyCompressor uses the Snappy block format.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// CompressTo encodes into dst's spare capacity when it is large enough.
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Grow(snappy.MaxEncodedLen(len(src)))
	encoded := snappy.Encode(dst.AvailableBuffer()[:snappy.MaxEncodedLen(len(src))], src)
	dst.Write(encoded)
	return nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(decoded)), nil
}

func (c *SnappyCompressor) DecompressBlock(src []byte, rawLen int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: snappy block holds %d bytes, want %d", core.ErrDecompressedSize, n, rawLen)
	}
	decoded, err := snappy.Decode(make([]byte, rawLen), src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return decoded, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}
