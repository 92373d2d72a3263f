// Package snapshot dumps the live key/value set of a store into a portable,
// compressed stream and loads such a stream back into a store.
//
// Stream layout (big-endian):
//
//	magic "BCSNAP01" | compression byte
//	chunk: rawLen u32 | compLen u32 | crc32(payload) u32 | payload
//	...
//	terminator: a chunk with rawLen = compLen = 0
//
// A chunk payload decompresses to a run of complete data entries in the
// same encoding the log files use.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/INLOpen/bitcask/core"
)

const (
	Magic = "BCSNAP01"

	chunkHeaderSize = 12

	// DefaultChunkSize is the raw size at which a chunk is cut.
	DefaultChunkSize = 1 << 20
)

// maxChunkSize bounds allocations when reading untrusted streams. No record
// larger than this can be exported.
var maxChunkSize = 256 << 20

// maxCompressedSize bounds a chunk payload. Incompressible input grows a
// little under every supported codec; snappy's bound is the loosest.
func maxCompressedSize() int {
	return maxChunkSize + maxChunkSize/6 + 64
}

var (
	ErrBadMagic       = errors.New("snapshot: bad magic")
	ErrCorruptChunk   = errors.New("snapshot: corrupt chunk")
	ErrMissingFooter  = errors.New("snapshot: stream ended before terminator")
	ErrRecordTooLarge = errors.New("snapshot: record exceeds maximum chunk size")
)

// Folder is anything that can enumerate live records, e.g. *engine.Store.
type Folder interface {
	Fold(ctx context.Context, fn func(key, value []byte) error) error
}

// Putter is anything records can be loaded into, e.g. *engine.Store.
type Putter interface {
	Put(ctx context.Context, key, value []byte) error
}

// Stats summarizes one export or import.
type Stats struct {
	Compression     core.CompressionType
	Records         int
	Chunks          int
	RawBytes        int64
	CompressedBytes int64
}

// Options tunes Export and Import. The zero value is usable.
type Options struct {
	ChunkSize int
	// Clock stamps exported entries. The stamp does not survive import;
	// the destination store applies its own.
	Clock     core.Clock
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkSize > maxChunkSize {
		o.ChunkSize = maxChunkSize
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "Snapshot")
	return o
}

func chunkErr(chunk int, format string, args ...interface{}) error {
	return fmt.Errorf("%w: chunk %d: %s", ErrCorruptChunk, chunk, fmt.Sprintf(format, args...))
}
