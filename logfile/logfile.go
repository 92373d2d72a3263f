package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/sys"
)

// SyncMode controls when appended data is fsynced.
type SyncMode string

const (
	SyncNone   SyncMode = "none"
	SyncAlways SyncMode = "always"
)

// WriteStatus is the outcome of CheckWrite.
type WriteStatus int

const (
	WriteFresh WriteStatus = iota
	WriteWrap
	WriteOK
)

func (s WriteStatus) String() string {
	switch s {
	case WriteFresh:
		return "fresh"
	case WriteWrap:
		return "wrap"
	case WriteOK:
		return "ok"
	default:
		return "unknown"
	}
}

const foldBufferSize = 64 * 1024

// Options configures a LogFile.
type Options struct {
	Clock  core.Clock
	Sync   SyncMode
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
	if o.Sync == "" {
		o.Sync = SyncNone
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "LogFile")
	return o
}

// LogFile is one data file and its paired hint file.
type LogFile struct {
	id       uint32
	path     string
	hintPath string
	opts     Options

	writeMu sync.Mutex
	dataW   sys.FileHandle // nil once closed for writing
	hintW   sys.FileHandle

	readH sys.FileHandle

	// writeOffset is the next reserved offset; written trails it until
	// the bytes of a reservation are on disk.
	writeOffset atomic.Uint64
	written     atomic.Uint64

	closed atomic.Bool
}

// Create makes a new data file in dir named after id, incrementing id until
// a free name is found.
func Create(dir string, id uint32, opts Options) (*LogFile, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	var (
		path  string
		dataW sys.FileHandle
		err   error
	)
	for {
		path = filepath.Join(dir, core.DataFileName(id))
		dataW, err = sys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create data file %s: %w", path, err)
		}
		id++
	}

	lf := &LogFile{id: id, path: path, hintPath: core.HintFileName(path), opts: opts, dataW: dataW}
	// A leftover hint without its data file describes nothing; truncate it.
	lf.hintW, err = sys.OpenFile(lf.hintPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		dataW.Close()
		return nil, fmt.Errorf("failed to create hint file %s: %w", lf.hintPath, err)
	}
	lf.readH, err = sys.Open(path)
	if err != nil {
		lf.hintW.Close()
		dataW.Close()
		return nil, fmt.Errorf("failed to open data file for reading %s: %w", path, err)
	}
	opts.Logger.Debug("Created log file", "path", path, "file_id", id)
	return lf, nil
}

// Open opens an existing data file in dir for continued appending.
func Open(dir string, id uint32, opts Options) (*LogFile, error) {
	return OpenPath(filepath.Join(dir, core.DataFileName(id)), opts)
}

// OpenPath opens an existing data file for continued appending and reading.
func OpenPath(path string, opts Options) (*LogFile, error) {
	lf, err := openForRead(path, opts)
	if err != nil {
		return nil, err
	}
	lf.dataW, err = sys.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		lf.readH.Close()
		return nil, fmt.Errorf("failed to open data file for writing %s: %w", path, err)
	}
	lf.hintW, err = sys.OpenFile(lf.hintPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lf.dataW.Close()
		lf.readH.Close()
		return nil, fmt.Errorf("failed to open hint file %s: %w", lf.hintPath, err)
	}
	return lf, nil
}

// OpenReadOnly opens an existing data file for reads and folds only.
func OpenReadOnly(path string, opts Options) (*LogFile, error) {
	return openForRead(path, opts)
}

func openForRead(path string, opts Options) (*LogFile, error) {
	opts = opts.withDefaults()
	id, _ := core.ParseDataFileName(filepath.Base(path))
	readH, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", path, err)
	}
	st, err := readH.Stat()
	if err != nil {
		readH.Close()
		return nil, fmt.Errorf("failed to stat data file %s: %w", path, err)
	}
	lf := &LogFile{id: id, path: path, hintPath: core.HintFileName(path), opts: opts, readH: readH}
	lf.writeOffset.Store(uint64(st.Size()))
	lf.written.Store(uint64(st.Size()))
	return lf, nil
}

func (lf *LogFile) FileID() uint32   { return lf.id }
func (lf *LogFile) Path() string     { return lf.path }
func (lf *LogFile) HintPath() string { return lf.hintPath }

// Size is the number of bytes fully written to the data file.
func (lf *LogFile) Size() uint64 { return lf.written.Load() }

// HasHintFile reports whether the hint file exists and can be opened.
func (lf *LogFile) HasHintFile() bool {
	h, err := sys.Open(lf.hintPath)
	if err != nil {
		return false
	}
	h.Close()
	return true
}

// IsWritable reports whether the file still accepts writes.
func (lf *LogFile) IsWritable() bool {
	lf.writeMu.Lock()
	defer lf.writeMu.Unlock()
	return lf.dataW != nil
}

// CheckWrite decides how a put of key and value must proceed. A nil
// receiver means no file has been created yet. A file sealed for writing
// always needs a wrap.
func (lf *LogFile) CheckWrite(key, value []byte, maxFileSize int64) WriteStatus {
	if lf == nil {
		return WriteFresh
	}
	if !lf.IsWritable() {
		return WriteWrap
	}
	if int64(lf.writeOffset.Load())+core.EntrySize(key, value) > maxFileSize {
		return WriteWrap
	}
	return WriteOK
}

// Write appends key and value and returns where the entry landed.
func (lf *LogFile) Write(key, value []byte) (core.IndexEntry, error) {
	lf.writeMu.Lock()
	defer lf.writeMu.Unlock()
	if lf.dataW == nil {
		return core.IndexEntry{}, core.ErrClosedForWriting
	}

	ts := core.NowSeconds(lf.opts.Clock)
	buf, err := core.EncodeEntry(key, value, ts)
	if err != nil {
		return core.IndexEntry{}, err
	}
	size := uint64(len(buf))
	off := lf.writeOffset.Add(size) - size

	if err := sys.WriteFullAt(lf.dataW, buf, int64(off)); err != nil {
		lf.writeOffset.Store(off)
		return core.IndexEntry{}, fmt.Errorf("failed to write entry to %s: %w", lf.path, err)
	}
	lf.written.Store(off + size)

	hint, err := core.EncodeHint(key, ts, off, uint32(size))
	if err != nil {
		return core.IndexEntry{}, err
	}
	if _, err := lf.hintW.Write(hint); err != nil {
		lf.abandonHintLocked()
		return core.IndexEntry{}, fmt.Errorf("failed to write hint to %s: %w", lf.hintPath, err)
	}
	if lf.opts.Sync == SyncAlways {
		if err := lf.dataW.Sync(); err != nil {
			return core.IndexEntry{}, fmt.Errorf("failed to sync %s: %w", lf.path, err)
		}
	}

	return core.IndexEntry{FileID: lf.id, Timestamp: ts, Offset: off, TotalSize: uint32(size)}, nil
}

// Read returns the key and value of the entry at offset, verifying that its
// size equals expected and that its checksum holds.
func (lf *LogFile) Read(offset uint64, expected uint32) (key, value []byte, err error) {
	hdr := make([]byte, core.EntryHeaderSize)
	if err := sys.ReadFullAt(lf.readH, hdr, int64(offset)); err != nil {
		return nil, nil, lf.readErr(offset, err)
	}
	h, err := core.DecodeEntryHeader(hdr)
	if err != nil {
		return nil, nil, err
	}
	if h.EntrySize() != expected {
		return nil, nil, &core.CorruptionError{Path: lf.path, Offset: offset, Err: fmt.Errorf("%w: header says %d, index says %d", core.ErrBadEntrySize, h.EntrySize(), expected)}
	}
	body := make([]byte, int(h.KeySize)+int(h.ValueSize))
	if err := sys.ReadFullAt(lf.readH, body, int64(offset)+core.EntryHeaderSize); err != nil {
		return nil, nil, lf.readErr(offset, err)
	}
	key, value = body[:h.KeySize], body[h.KeySize:]
	if err := core.VerifyEntry(hdr, key, value); err != nil {
		return nil, nil, &core.CorruptionError{Path: lf.path, Offset: offset, Err: err}
	}
	return key, value, nil
}

func (lf *LogFile) readErr(offset uint64, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("failed to read entry from %s at offset %d: %w", lf.path, offset, err)
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func stopped(err error) (bool, error) {
	if errors.Is(err, core.ErrStopFold) {
		return true, nil
	}
	return err != nil, err
}

// Fold calls fn for every entry in the data file in offset order. A
// truncated tail ends the fold without error.
func (lf *LogFile) Fold(fn func(rec core.Record) error) error {
	limit := lf.Size()
	r := bufio.NewReaderSize(io.NewSectionReader(lf.readH, 0, int64(limit)), foldBufferSize)
	hdr := make([]byte, core.EntryHeaderSize)
	var off uint64
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if isShortRead(err) {
				return nil
			}
			return err
		}
		h, _ := core.DecodeEntryHeader(hdr)
		size := uint64(h.EntrySize())
		if off+size > limit {
			lf.opts.Logger.Warn("Truncated entry at end of data file", "path", lf.path, "offset", off)
			return nil
		}
		body := make([]byte, size-core.EntryHeaderSize)
		if _, err := io.ReadFull(r, body); err != nil {
			if isShortRead(err) {
				return nil
			}
			return err
		}
		key, value := body[:h.KeySize], body[h.KeySize:]
		if err := core.VerifyEntry(hdr, key, value); err != nil {
			return &core.CorruptionError{Path: lf.path, Offset: off, Err: err}
		}
		rec := core.Record{Key: key, Value: value, Timestamp: h.Timestamp, Offset: off, Size: uint32(size)}
		if stop, err := stopped(fn(rec)); stop {
			return err
		}
		off += size
	}
}

// FoldKeys calls fn for every key location in the file, reading the hint
// file when present. Entries appended after the last hint record are
// picked up from the data file.
func (lf *LogFile) FoldKeys(fn func(k core.KeyRecord) error) error {
	if !lf.HasHintFile() {
		return lf.FoldKeysData(fn)
	}
	end, stop, err := lf.foldKeysHint(fn)
	if stop || err != nil {
		return err
	}
	if end < lf.Size() {
		lf.opts.Logger.Debug("Hint file behind data file, scanning remainder", "path", lf.path, "hint_end", end, "size", lf.Size())
		_, err = lf.foldKeysData(end, fn)
	}
	return err
}

// FoldKeysHint folds over the hint file only.
func (lf *LogFile) FoldKeysHint(fn func(k core.KeyRecord) error) error {
	_, _, err := lf.foldKeysHint(fn)
	return err
}

// FoldKeysData folds over data entry headers and keys only. Values are
// skipped, so checksums are not verified.
func (lf *LogFile) FoldKeysData(fn func(k core.KeyRecord) error) error {
	_, err := lf.foldKeysData(0, fn)
	return err
}

func (lf *LogFile) foldKeysHint(fn func(k core.KeyRecord) error) (end uint64, stop bool, err error) {
	h, err := sys.Open(lf.hintPath)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open hint file %s: %w", lf.hintPath, err)
	}
	defer h.Close()

	r := bufio.NewReaderSize(h, foldBufferSize)
	hdr := make([]byte, core.HintHeaderSize)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if isShortRead(err) {
				return end, false, nil
			}
			return end, false, err
		}
		hh, _ := core.DecodeHintHeader(hdr)
		key := make([]byte, hh.KeySize)
		if _, err := io.ReadFull(r, key); err != nil {
			if isShortRead(err) {
				return end, false, nil
			}
			return end, false, err
		}
		rec := core.KeyRecord{Key: key, Timestamp: hh.Timestamp, Offset: hh.EntryOffset, Size: hh.EntrySize}
		if s, err := stopped(fn(rec)); s {
			return end, true, err
		}
		if e := hh.EntryOffset + uint64(hh.EntrySize); e > end {
			end = e
		}
	}
}

func (lf *LogFile) foldKeysData(from uint64, fn func(k core.KeyRecord) error) (bool, error) {
	limit := lf.Size()
	if from >= limit {
		return false, nil
	}
	r := bufio.NewReaderSize(io.NewSectionReader(lf.readH, int64(from), int64(limit-from)), foldBufferSize)
	hdr := make([]byte, core.EntryHeaderSize)
	off := from
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if isShortRead(err) {
				return false, nil
			}
			return false, err
		}
		h, _ := core.DecodeEntryHeader(hdr)
		size := uint64(h.EntrySize())
		if off+size > limit {
			return false, nil
		}
		key := make([]byte, h.KeySize)
		if _, err := io.ReadFull(r, key); err != nil {
			if isShortRead(err) {
				return false, nil
			}
			return false, err
		}
		if _, err := r.Discard(int(h.ValueSize)); err != nil {
			if isShortRead(err) {
				return false, nil
			}
			return false, err
		}
		rec := core.KeyRecord{Key: key, Timestamp: h.Timestamp, Offset: off, Size: uint32(size)}
		if s, err := stopped(fn(rec)); s {
			return true, err
		}
		off += size
	}
}

// Sync flushes the data and hint files.
func (lf *LogFile) Sync() error {
	lf.writeMu.Lock()
	defer lf.writeMu.Unlock()
	if lf.dataW == nil {
		return nil
	}
	return errors.Join(lf.dataW.Sync(), lf.hintW.Sync())
}

// CloseForWriting syncs and closes the append handles. Reads keep working.
func (lf *LogFile) CloseForWriting() error {
	lf.writeMu.Lock()
	defer lf.writeMu.Unlock()
	if lf.dataW == nil {
		return nil
	}
	err := errors.Join(
		lf.dataW.Sync(),
		lf.hintW.Sync(),
		lf.dataW.Close(),
		lf.hintW.Close(),
	)
	lf.dataW = nil
	lf.hintW = nil
	return err
}

// abandonHintLocked seals the file after a failed hint append and removes
// the hint file, so key folds read the data file, which already holds the
// entry. Must be called with writeMu held.
func (lf *LogFile) abandonHintLocked() {
	err := errors.Join(
		lf.dataW.Sync(),
		lf.dataW.Close(),
		lf.hintW.Close(),
		sys.Remove(lf.hintPath),
	)
	lf.dataW = nil
	lf.hintW = nil
	if err != nil {
		lf.opts.Logger.Error("Failed to drop hint file after hint write error", "path", lf.path, "error", err)
		return
	}
	lf.opts.Logger.Warn("Hint write failed, file sealed and hint dropped", "path", lf.path)
}

// Close releases every handle. Reads after Close fail with os.ErrClosed.
func (lf *LogFile) Close() error {
	werr := lf.CloseForWriting()
	if !lf.closed.CompareAndSwap(false, true) {
		return werr
	}
	return errors.Join(werr, lf.readH.Close())
}
