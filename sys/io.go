package sys

import (
	"errors"
	"fmt"
	"io"
)

// maxStalledAttempts bounds how many consecutive zero-progress calls the
// full-I/O helpers tolerate before giving up.
const maxStalledAttempts = 8

var ErrStalledIO = errors.New("sys: no progress after repeated I/O attempts")

// WriteFullAt writes all of p at off, looping over partial writes.
func WriteFullAt(w io.WriterAt, p []byte, off int64) error {
	stalled := 0
	for len(p) > 0 {
		n, err := w.WriteAt(p, off)
		if n > 0 {
			p = p[n:]
			off += int64(n)
			stalled = 0
		}
		if err != nil {
			return err
		}
		if n == 0 {
			stalled++
			if stalled >= maxStalledAttempts {
				return fmt.Errorf("write at %d: %w", off, ErrStalledIO)
			}
		}
	}
	return nil
}

// ReadFullAt fills p from off. A read that ends early returns
// io.ErrUnexpectedEOF, or io.EOF when nothing at all was read.
func ReadFullAt(r io.ReaderAt, p []byte, off int64) error {
	read := 0
	stalled := 0
	for read < len(p) {
		n, err := r.ReadAt(p[read:], off+int64(read))
		read += n
		if read == len(p) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if read == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n == 0 {
			stalled++
			if stalled >= maxStalledAttempts {
				return fmt.Errorf("read at %d: %w", off+int64(read), ErrStalledIO)
			}
		} else {
			stalled = 0
		}
	}
	return nil
}
