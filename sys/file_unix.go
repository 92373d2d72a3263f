//go:build !windows

package sys

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// unixFile implements File with plain os calls; unix lets an open file be
// unlinked, so no share flags are needed.
type unixFile struct {
	removeRetries  int
	removeInterval time.Duration
}

// NewFile returns the platform-specific File.
func NewFile() File {
	return &unixFile{removeRetries: 5, removeInterval: 10 * time.Millisecond}
}

func (uf *unixFile) Create(name string) (*os.File, error) {
	return os.Create(name)
}

func (uf *unixFile) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (uf *unixFile) Open(name string) (*os.File, error) {
	return os.Open(name)
}

// SafeRemove retries remove with exponential backoff.
func (uf *unixFile) SafeRemove(name string) error {
	var err error
	for i := 0; i < uf.removeRetries; i++ {
		err = os.Remove(name)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		time.Sleep(uf.removeInterval * time.Duration(1<<i))
	}
	return err
}

func (uf *unixFile) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
