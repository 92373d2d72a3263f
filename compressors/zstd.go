package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/bitcask/core"
	"github.com/klauspost/compress/zstd"
)

const zstdMaxDecoderMemory = 256 << 20

// ZstdCompressor keeps pools of encoders and decoders; both are costly to
// build and safe to reuse after Reset.
type ZstdCompressor struct {
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

// Close returns the decoder to its pool. Decoder.Close would make it
// unusable.
func (zrc *zstdReadCloser) Close() error {
	if zrc.Decoder == nil {
		return nil
	}
	zrc.pool.Put(zrc.Decoder)
	zrc.Decoder = nil
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return NewZstdCompressorLevel(zstd.SpeedDefault)
}

// NewZstdCompressorLevel creates a compressor encoding at level.
func NewZstdCompressorLevel(level zstd.EncoderLevel) *ZstdCompressor {
	c := &ZstdCompressor{level: level}
	c.encoderPool.New = func() interface{} {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if err != nil {
			return err
		}
		return enc
	}
	c.decoderPool.New = func() interface{} {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(zstdMaxDecoderMemory))
		if err != nil {
			return err
		}
		return dec
	}
	return c
}

func (c *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	switch v := c.encoderPool.Get().(type) {
	case *zstd.Encoder:
		return v, nil
	case error:
		return nil, fmt.Errorf("zstd encoder: %w", v)
	default:
		return nil, fmt.Errorf("zstd encoder: unexpected pool value %T", v)
	}
}

func (c *ZstdCompressor) decoder() (*zstd.Decoder, error) {
	switch v := c.decoderPool.Get().(type) {
	case *zstd.Decoder:
		return v, nil
	case error:
		return nil, fmt.Errorf("zstd decoder: %w", v)
	default:
		return nil, fmt.Errorf("zstd decoder: unexpected pool value %T", v)
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.encoder()
	if err != nil {
		return err
	}
	defer c.encoderPool.Put(enc)
	dst.Reset()
	dst.Write(enc.EncodeAll(src, dst.AvailableBuffer()))
	return nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZstdCompressor) DecompressBlock(src []byte, rawLen int) ([]byte, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}
	defer c.decoderPool.Put(dec)
	out, err := dec.DecodeAll(src, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("%w: zstd block holds %d bytes, want %d", core.ErrDecompressedSize, len(out), rawLen)
	}
	return out, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
