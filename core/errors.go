package core

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch is returned when the CRC32 stored in a data entry
	// does not match the bytes that follow it. It is never retried.
	ErrChecksumMismatch = errors.New("bitcask: checksum mismatch")
	// ErrBadEntrySize is returned when an index entry's size disagrees with
	// the header found at its offset.
	ErrBadEntrySize = errors.New("bitcask: entry size does not match header")
	// ErrTruncatedRecord signals a header or body shorter than declared.
	// Folds treat it as end-of-file.
	ErrTruncatedRecord = errors.New("bitcask: truncated record")

	ErrReadOnlyStore       = errors.New("bitcask: store is read-only")
	ErrLockHeld            = errors.New("bitcask: lock is held by another process")
	ErrLockNotWritable     = errors.New("bitcask: lock handle is not writable")
	ErrKeyDirWarmupTimeout = errors.New("bitcask: timed out waiting for keydir warm-up")
	ErrVanishedFile        = errors.New("bitcask: data file vanished")
	ErrNotFound            = errors.New("bitcask: not found")
	ErrKeyTooLarge         = errors.New("bitcask: key too large")
	ErrValueTooLarge       = errors.New("bitcask: value too large")
	ErrClosedForWriting    = errors.New("bitcask: log file closed for writing")

	// ErrStopFold may be returned by a fold callback to end the fold early.
	// The fold itself then returns nil.
	ErrStopFold = errors.New("bitcask: stop fold")
)

// CorruptionError records where a checksum or size failure was detected.
type CorruptionError struct {
	Path   string
	Offset uint64
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt entry in %s at offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption reports whether err (or any error in its chain) indicates
// on-disk corruption.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrBadEntrySize)
}
