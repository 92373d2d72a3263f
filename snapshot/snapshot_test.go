package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/INLOpen/bitcask/compressors"
	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/engine"
	"github.com/INLOpen/bitcask/keydir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapStore is an in-memory Folder and Putter.
type mapStore struct {
	data   map[string][]byte
	putErr error
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) Fold(ctx context.Context, fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), m.data[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mapStore) Put(_ context.Context, key, value []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func quietOpts(chunkSize int) Options {
	return Options{
		ChunkSize: chunkSize,
		Clock:     core.NewMockClock(time.Unix(1700000000, 0)),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func fill(n int) *mapStore {
	m := newMapStore()
	for i := 0; i < n; i++ {
		m.data[fmt.Sprintf("key-%04d", i)] = bytes.Repeat([]byte{byte('a' + i%26)}, i%50)
	}
	return m
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := compressors.ForType(ct)
			require.NoError(t, err)
			src := fill(300)

			var buf bytes.Buffer
			exported, err := ExportWithOptions(ctx, src, &buf, c, quietOpts(512))
			require.NoError(t, err)
			assert.Equal(t, 300, exported.Records)
			assert.Greater(t, exported.Chunks, 1)
			assert.Equal(t, ct, exported.Compression)

			dst := newMapStore()
			imported, err := ImportWithOptions(ctx, &buf, dst, quietOpts(0))
			require.NoError(t, err)
			assert.Equal(t, exported.Records, imported.Records)
			assert.Equal(t, exported.Chunks, imported.Chunks)
			assert.Equal(t, exported.RawBytes, imported.RawBytes)
			assert.Equal(t, exported.CompressedBytes, imported.CompressedBytes)
			assert.Equal(t, len(src.data), len(dst.data))
			for k, v := range src.data {
				assert.True(t, bytes.Equal(v, dst.data[k]), k)
			}
		})
	}
}

func TestExport_EmptySource(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Export(context.Background(), newMapStore(), &buf, compressors.NewSnappyCompressor())
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
	assert.Zero(t, stats.Chunks)
	assert.Equal(t, len(Magic)+1+chunkHeaderSize, buf.Len())

	dst := newMapStore()
	stats, err = Import(context.Background(), &buf, dst)
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
	assert.Equal(t, core.CompressionSnappy, stats.Compression)
}

func TestExport_OversizedRecordGetsOwnChunk(t *testing.T) {
	src := newMapStore()
	src.data["big"] = bytes.Repeat([]byte("x"), 4096)
	src.data["small"] = []byte("y")

	var buf bytes.Buffer
	stats, err := ExportWithOptions(context.Background(), src, &buf, compressors.NewNoCompressionCompressor(), quietOpts(100))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)
}

func TestExport_RecordOverChunkLimitRejected(t *testing.T) {
	prev := maxChunkSize
	maxChunkSize = 1024
	t.Cleanup(func() { maxChunkSize = prev })

	ctx := context.Background()
	c := compressors.NewSnappyCompressor()

	// An entry of exactly the limit still round-trips.
	edge := newMapStore()
	edge.data["edge"] = bytes.Repeat([]byte("e"), maxChunkSize-core.EntryHeaderSize-len("edge"))
	var buf bytes.Buffer
	_, err := ExportWithOptions(ctx, edge, &buf, c, quietOpts(0))
	require.NoError(t, err)
	dst := newMapStore()
	_, err = Import(ctx, &buf, dst)
	require.NoError(t, err)
	assert.Equal(t, edge.data, dst.data)

	src := newMapStore()
	src.data["big"] = bytes.Repeat([]byte("x"), maxChunkSize)
	src.data["small"] = []byte("y")
	buf.Reset()
	_, err = ExportWithOptions(ctx, src, &buf, c, quietOpts(0))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestExport_FoldErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	src := folderFunc(func(ctx context.Context, fn func(key, value []byte) error) error { return boom })
	_, err := Export(context.Background(), src, io.Discard, compressors.NewNoCompressionCompressor())
	assert.ErrorIs(t, err, boom)
}

type folderFunc func(ctx context.Context, fn func(key, value []byte) error) error

func (f folderFunc) Fold(ctx context.Context, fn func(key, value []byte) error) error { return f(ctx, fn) }

func exportBytes(t *testing.T, c core.Compressor) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := ExportWithOptions(context.Background(), fill(20), &buf, c, quietOpts(0))
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImport_BadMagic(t *testing.T) {
	data := exportBytes(t, compressors.NewNoCompressionCompressor())
	data[0] = 'X'
	_, err := Import(context.Background(), bytes.NewReader(data), newMapStore())
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Import(context.Background(), bytes.NewReader(nil), newMapStore())
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestImport_UnknownCompression(t *testing.T) {
	data := exportBytes(t, compressors.NewNoCompressionCompressor())
	data[len(Magic)] = 9
	_, err := Import(context.Background(), bytes.NewReader(data), newMapStore())
	assert.Error(t, err)
}

func TestImport_PayloadChecksumMismatch(t *testing.T) {
	data := exportBytes(t, compressors.NewZstdCompressor())
	data[len(Magic)+1+chunkHeaderSize+3] ^= 0xff

	dst := newMapStore()
	_, err := Import(context.Background(), bytes.NewReader(data), dst)
	assert.ErrorIs(t, err, ErrCorruptChunk)
	assert.Empty(t, dst.data)
}

// A record CRC failure is caught even when the chunk checksum is rewritten
// to match the damaged payload.
func TestImport_RecordChecksumMismatch(t *testing.T) {
	data := exportBytes(t, compressors.NewNoCompressionCompressor())
	hdr := len(Magic) + 1
	payload := data[hdr+chunkHeaderSize:]
	compLen := binary.BigEndian.Uint32(data[hdr+4 : hdr+8])
	payload[core.EntryHeaderSize] ^= 0x01
	binary.BigEndian.PutUint32(data[hdr+8:hdr+12], crc32.ChecksumIEEE(payload[:compLen]))

	dst := newMapStore()
	_, err := Import(context.Background(), bytes.NewReader(data), dst)
	assert.ErrorIs(t, err, ErrCorruptChunk)
	assert.ErrorIs(t, err, core.ErrChecksumMismatch)
	assert.Empty(t, dst.data)
}

func TestImport_Truncated(t *testing.T) {
	data := exportBytes(t, compressors.NewLz4Compressor())
	_, err := Import(context.Background(), bytes.NewReader(data[:len(data)-chunkHeaderSize]), newMapStore())
	assert.ErrorIs(t, err, ErrMissingFooter)

	_, err = Import(context.Background(), bytes.NewReader(data[:len(Magic)+1+chunkHeaderSize+2]), newMapStore())
	assert.ErrorIs(t, err, ErrMissingFooter)
}

func TestImport_PutErrorStops(t *testing.T) {
	data := exportBytes(t, compressors.NewNoCompressionCompressor())
	dst := newMapStore()
	dst.putErr = core.ErrReadOnlyStore
	stats, err := Import(context.Background(), bytes.NewReader(data), dst)
	assert.ErrorIs(t, err, core.ErrReadOnlyStore)
	assert.Zero(t, stats.Records)
}

func TestImport_ContextCancelled(t *testing.T) {
	data := exportBytes(t, compressors.NewNoCompressionCompressor())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Import(ctx, bytes.NewReader(data), newMapStore())
	assert.ErrorIs(t, err, context.Canceled)
}

func engineOpts() engine.Options {
	return engine.Options{
		ReadWrite:   true,
		LockTimeout: 100 * time.Millisecond,
		Registry:    keydir.NewRegistry(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     engine.NewEngineMetrics(false, ""),
	}
}

func TestExportImport_BetweenStores(t *testing.T) {
	ctx := context.Background()
	src, err := engine.Open(ctx, t.TempDir(), engineOpts())
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, src.Put(ctx, []byte("b"), []byte("2")))
	require.NoError(t, src.Put(ctx, []byte("a"), []byte("3")))
	require.NoError(t, src.Delete(ctx, []byte("b")))
	require.NoError(t, src.Put(ctx, []byte("c"), []byte("4")))

	var buf bytes.Buffer
	stats, err := Export(ctx, src, &buf, compressors.NewZstdCompressor())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)

	dst, err := engine.Open(ctx, t.TempDir(), engineOpts())
	require.NoError(t, err)
	defer dst.Close()
	_, err = Import(ctx, &buf, dst)
	require.NoError(t, err)

	v, err := dst.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
	v, err = dst.Get(ctx, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("4"), v)
	_, err = dst.Get(ctx, []byte("b"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}
