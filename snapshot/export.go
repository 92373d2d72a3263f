package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/INLOpen/bitcask/core"
)

// Export writes every live record of src to w, compressed chunk by chunk
// with c.
func Export(ctx context.Context, src Folder, w io.Writer, c core.Compressor) (Stats, error) {
	return ExportWithOptions(ctx, src, w, c, Options{})
}

// ExportWithOptions is Export with explicit chunking, clock and logger.
func ExportWithOptions(ctx context.Context, src Folder, w io.Writer, c core.Compressor, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	ex := &exporter{
		w:     w,
		c:     c,
		opts:  opts,
		ts:    core.NowSeconds(opts.Clock),
		stats: Stats{Compression: c.Type()},
	}

	header := append([]byte(Magic), byte(c.Type()))
	if _, err := w.Write(header); err != nil {
		return ex.stats, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	err := src.Fold(ctx, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ex.add(key, value)
	})
	if err != nil {
		return ex.stats, fmt.Errorf("export fold failed: %w", err)
	}
	if err := ex.flush(); err != nil {
		return ex.stats, err
	}
	var terminator [chunkHeaderSize]byte
	if _, err := w.Write(terminator[:]); err != nil {
		return ex.stats, fmt.Errorf("failed to write snapshot terminator: %w", err)
	}

	opts.Logger.Info("Snapshot exported.",
		"records", ex.stats.Records,
		"chunks", ex.stats.Chunks,
		"raw_bytes", ex.stats.RawBytes,
		"compressed_bytes", ex.stats.CompressedBytes,
		"compression", c.Type().String())
	return ex.stats, nil
}

type exporter struct {
	w     io.Writer
	c     core.Compressor
	opts  Options
	ts    uint32
	raw   bytes.Buffer
	comp  bytes.Buffer
	stats Stats
}

func (ex *exporter) add(key, value []byte) error {
	entry, err := core.EncodeEntry(key, value, ex.ts)
	if err != nil {
		return err
	}
	if len(entry) > maxChunkSize {
		return fmt.Errorf("%w: %d-byte key encodes to %d bytes, limit %d", ErrRecordTooLarge, len(key), len(entry), maxChunkSize)
	}
	if ex.raw.Len() > 0 && ex.raw.Len()+len(entry) > ex.opts.ChunkSize {
		if err := ex.flush(); err != nil {
			return err
		}
	}
	ex.raw.Write(entry)
	ex.stats.Records++
	return nil
}

func (ex *exporter) flush() error {
	if ex.raw.Len() == 0 {
		return nil
	}
	if err := ex.c.CompressTo(&ex.comp, ex.raw.Bytes()); err != nil {
		return fmt.Errorf("failed to compress chunk %d: %w", ex.stats.Chunks, err)
	}
	// An empty compressed payload would read back as the terminator.
	if ex.comp.Len() == 0 {
		return fmt.Errorf("compressor %s produced an empty chunk", ex.c.Type())
	}

	var hdr [chunkHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(ex.raw.Len()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(ex.comp.Len()))
	binary.BigEndian.PutUint32(hdr[8:12], crc32.ChecksumIEEE(ex.comp.Bytes()))
	if _, err := ex.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write chunk header: %w", err)
	}
	if _, err := ex.w.Write(ex.comp.Bytes()); err != nil {
		return fmt.Errorf("failed to write chunk payload: %w", err)
	}

	ex.stats.Chunks++
	ex.stats.RawBytes += int64(ex.raw.Len())
	ex.stats.CompressedBytes += int64(ex.comp.Len())
	ex.raw.Reset()
	return nil
}
