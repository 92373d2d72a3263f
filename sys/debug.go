package sys

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

var _ FileHandle = (*DebugFile)(nil)
var nextID atomic.Uint64

var openHandles = new(sync.Map)

var debugLogger atomic.Pointer[slog.Logger]

// SetDebugLogger sets the logger used by DebugFile handles. nil restores
// the default (slog.Default at debug level).
func SetDebugLogger(l *slog.Logger) {
	debugLogger.Store(l)
}

func currentDebugLogger() *slog.Logger {
	if l := debugLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// DebugFile wraps an *os.File and logs its lifetime. Open handles are
// tracked so leaks can be listed with OpenDebugHandles.
type DebugFile struct {
	id     uint64
	f      *os.File
	logger *slog.Logger
}

func DOpenFile(sysFile File, name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := sysFile.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	id := nextID.Add(1)
	logger := currentDebugLogger().With("component", "DebugFile", "id", id, "file_name", name)
	logger.Debug("Opening file", "flag", flag)
	openHandles.Store(id, f.Name())

	return &DebugFile{
		id:     id,
		f:      f,
		logger: logger,
	}, nil
}

func (df *DebugFile) Write(p []byte) (n int, err error) {
	return df.f.Write(p)
}

func (df *DebugFile) Read(p []byte) (n int, err error) {
	return df.f.Read(p)
}

func (df *DebugFile) Seek(offset int64, whence int) (int64, error) {
	return df.f.Seek(offset, whence)
}

func (df *DebugFile) Stat() (os.FileInfo, error) {
	return df.f.Stat()
}

func (df *DebugFile) Sync() error {
	return df.f.Sync()
}

func (df *DebugFile) Truncate(size int64) error {
	df.logger.Debug("Truncating file", "size", size)
	return df.f.Truncate(size)
}

func (df *DebugFile) Name() string {
	return df.f.Name()
}

func (df *DebugFile) Fd() uintptr {
	return df.f.Fd()
}

func (df *DebugFile) WriteAt(p []byte, off int64) (n int, err error) {
	return df.f.WriteAt(p, off)
}

func (df *DebugFile) ReadAt(p []byte, off int64) (n int, err error) {
	return df.f.ReadAt(p, off)
}

func (df *DebugFile) Close() error {
	df.logger.Debug("Closing file")
	openHandles.Delete(df.id)
	return df.f.Close()
}

// OpenDebugHandles lists the names of DebugFile handles not yet closed.
func OpenDebugHandles() []string {
	var names []string
	openHandles.Range(func(_, value any) bool {
		names = append(names, value.(string))
		return true
	})
	sort.Strings(names)
	return names
}
