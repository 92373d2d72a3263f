package sys

import (
	"io"
	"os"
	"sync/atomic"
)

// fileWrapper is a stable concrete type used to store the File interface
// inside an atomic.Value, which requires one concrete type across stores.
type fileWrapper struct {
	f File
}

var defaultFile atomic.Value // stores fileWrapper
var debugMode atomic.Bool

// File abstracts platform-specific file opening. On Windows files are opened
// with FILE_SHARE_DELETE so an external merge can remove data files that a
// store still holds open.
type File interface {
	Create(name string) (*os.File, error)
	Open(name string) (*os.File, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	SafeRemove(name string) error
	WriteFile(name string, data []byte, perm os.FileMode) error
}

type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
	Fd() uintptr
}

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type WriteFileHandler func(name string, data []byte, perm os.FileMode) error
type RemoveHandler func(name string) error

func init() {
	debugMode.Store(false)
	defaultFile.Store(fileWrapper{f: NewFile()})
}

func SetDefaultFile(file File) {
	defaultFile.Store(fileWrapper{f: file})
}

// SetDebugMode makes subsequently opened handles log their open and close.
func SetDebugMode(mode bool) {
	debugMode.Store(mode)
}

func IsDebugMode() bool {
	return debugMode.Load()
}

func loadFile() (File, error) {
	p := defaultFile.Load()
	if p == nil {
		return nil, os.ErrInvalid
	}
	fw, ok := p.(fileWrapper)
	if !ok || fw.f == nil {
		return nil, os.ErrInvalid
	}
	return fw.f, nil
}

var Create CreateHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

var Open OpenHandler = func(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	file, err := loadFile()
	if err != nil {
		return nil, err
	}
	if debugMode.Load() {
		return DOpenFile(file, name, flag, perm)
	}
	return ROpenFile(file, name, flag, perm)
}

var WriteFile WriteFileHandler = func(name string, data []byte, perm os.FileMode) error {
	file, err := loadFile()
	if err != nil {
		return err
	}
	return file.WriteFile(name, data, perm)
}

// Remove deletes name, retrying transient failures. A missing file is not an error.
var Remove RemoveHandler = func(name string) error {
	file, err := loadFile()
	if err != nil {
		return err
	}
	return file.SafeRemove(name)
}
