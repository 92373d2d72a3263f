package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/INLOpen/bitcask/compressors"
	"github.com/INLOpen/bitcask/core"
)

// Import reads a stream written by Export and puts every record into dst.
// Chunks are verified before any of their records are put; a corrupt chunk
// stops the import with ErrCorruptChunk after earlier chunks were applied.
func Import(ctx context.Context, r io.Reader, dst Putter) (Stats, error) {
	return ImportWithOptions(ctx, r, dst, Options{})
}

// ImportWithOptions is Import with an explicit logger.
func ImportWithOptions(ctx context.Context, r io.Reader, dst Putter, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	var stats Stats

	c, err := readHeader(r)
	if err != nil {
		return stats, err
	}
	stats.Compression = c.Type()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw, compLen, err := readChunk(r, c, stats.Chunks)
		if err != nil {
			return stats, err
		}
		if raw == nil {
			break
		}

		n, err := putEntries(ctx, raw, dst, stats.Chunks)
		stats.Records += n
		if err != nil {
			return stats, err
		}
		stats.Chunks++
		stats.RawBytes += int64(len(raw))
		stats.CompressedBytes += int64(compLen)
	}

	opts.Logger.Info("Snapshot imported.",
		"records", stats.Records,
		"chunks", stats.Chunks,
		"compression", stats.Compression.String())
	return stats, nil
}

func readHeader(r io.Reader) (core.Compressor, error) {
	var hdr [len(Magic) + 1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, hdr[:len(Magic)])
	}
	return compressors.ForType(core.CompressionType(hdr[len(Magic)]))
}

// readChunk returns the decompressed payload, or nil at the terminator.
func readChunk(r io.Reader, c core.Compressor, chunk int) ([]byte, uint32, error) {
	var hdr [chunkHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrMissingFooter
		}
		return nil, 0, err
	}
	rawLen := binary.BigEndian.Uint32(hdr[0:4])
	compLen := binary.BigEndian.Uint32(hdr[4:8])
	sum := binary.BigEndian.Uint32(hdr[8:12])
	if rawLen == 0 && compLen == 0 {
		return nil, 0, nil
	}
	if int64(rawLen) > int64(maxChunkSize) || int64(compLen) > int64(maxCompressedSize()) || rawLen == 0 || compLen == 0 {
		return nil, 0, chunkErr(chunk, "implausible lengths raw=%d compressed=%d", rawLen, compLen)
	}

	payload := make([]byte, compLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrMissingFooter
		}
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, chunkErr(chunk, "payload checksum mismatch")
	}
	raw, err := c.DecompressBlock(payload, int(rawLen))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: chunk %d: %w", ErrCorruptChunk, chunk, err)
	}
	return raw, compLen, nil
}

// putEntries verifies every entry in raw, then puts them in order.
func putEntries(ctx context.Context, raw []byte, dst Putter, chunk int) (int, error) {
	var recs []core.Record
	for off := 0; off < len(raw); {
		rec, err := core.DecodeEntry(raw[off:])
		if err != nil {
			return 0, fmt.Errorf("%w: chunk %d: entry at offset %d: %w", ErrCorruptChunk, chunk, off, err)
		}
		recs = append(recs, rec)
		off += int(rec.Size)
	}
	for i, rec := range recs {
		if err := dst.Put(ctx, rec.Key, rec.Value); err != nil {
			return i, fmt.Errorf("import put failed: %w", err)
		}
	}
	return len(recs), nil
}
