//go:build windows

package sys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// windowsFile opens files through CreateFile with FILE_SHARE_DELETE so a
// merge process can delete or rename data files this process holds open.
type windowsFile struct {
	removeRetries  int
	removeInterval time.Duration
}

// NewFile returns the platform-specific File.
func NewFile() File {
	return &windowsFile{removeRetries: 5, removeInterval: 100 * time.Millisecond}
}

func (wf *windowsFile) Create(name string) (*os.File, error) {
	return wf.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (wf *windowsFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	var access uint32
	var creationDisposition uint32
	shareMode := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE)

	switch {
	case flag&os.O_RDWR != 0:
		access = windows.GENERIC_READ | windows.GENERIC_WRITE
	case flag&os.O_WRONLY != 0:
		access = windows.GENERIC_WRITE
	default:
		access = windows.GENERIC_READ
	}

	if flag&os.O_CREATE != 0 {
		if flag&os.O_EXCL != 0 {
			creationDisposition = windows.CREATE_NEW
		} else {
			creationDisposition = windows.OPEN_ALWAYS
		}
	} else {
		creationDisposition = windows.OPEN_EXISTING
	}

	if flag&os.O_TRUNC != 0 {
		if creationDisposition == windows.OPEN_EXISTING {
			creationDisposition = windows.TRUNCATE_EXISTING
		} else {
			creationDisposition = windows.CREATE_ALWAYS
		}
	}

	pathp, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateFile(pathp, access, shareMode, nil, creationDisposition, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) {
			switch errno {
			case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
				return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
			case windows.ERROR_FILE_EXISTS, windows.ERROR_ALREADY_EXISTS:
				return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
			}
		}
		return nil, fmt.Errorf("windows CreateFile failed for %s: %w", name, err)
	}

	file := os.NewFile(uintptr(handle), name)
	if flag&os.O_APPEND != 0 {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek to end for append on %s: %w", name, err)
		}
	}
	return file, nil
}

func (wf *windowsFile) Open(name string) (*os.File, error) {
	return wf.OpenFile(name, os.O_RDONLY, 0)
}

// SafeRemove retries remove with exponential backoff; antivirus and
// indexers commonly hold short-lived handles on Windows.
func (wf *windowsFile) SafeRemove(name string) error {
	var err error
	for i := 0; i < wf.removeRetries; i++ {
		err = os.Remove(name)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		time.Sleep(wf.removeInterval * time.Duration(1<<i))
	}
	return err
}

func (wf *windowsFile) WriteFile(name string, data []byte, perm os.FileMode) error {
	f, err := wf.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err1 := f.Close(); err1 != nil && err == nil {
		err = err1
	}
	return err
}
