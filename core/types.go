package core

import (
	"bytes"
	"errors"
	"io"
)

// CompressionType identifies the compression algorithm used.
// It is stored in snapshot headers to know how to decompress.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor compresses independent blocks. Block formats do not record
// the uncompressed length, so callers that know it pass it to
// DecompressBlock.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	// CompressTo replaces the contents of dst with the compressed src.
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress returns a reader over the decompressed data.
	Decompress(data []byte) (io.ReadCloser, error)
	// DecompressBlock decodes src, which must expand to exactly rawLen bytes.
	DecompressBlock(src []byte, rawLen int) ([]byte, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// ErrDecompressedSize is returned when a block does not expand to its
// recorded length.
var ErrDecompressedSize = errors.New("decompressed size mismatch")

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a configuration name to a CompressionType.
func ParseCompressionType(name string) (CompressionType, bool) {
	switch name {
	case "", "none":
		return CompressionNone, true
	case "snappy":
		return CompressionSnappy, true
	case "lz4":
		return CompressionLZ4, true
	case "zstd":
		return CompressionZSTD, true
	default:
		return CompressionNone, false
	}
}
