//go:build windows

package sys

import (
	"errors"

	"golang.org/x/sys/windows"
)

// The locked byte sits far past any real content so readers of the lock
// file through other handles are not blocked by the byte-range lock.
const (
	lockRegionOffsetLow  = 0
	lockRegionOffsetHigh = 0x7FFFFFFF
)

func lockOverlapped() *windows.Overlapped {
	return &windows.Overlapped{Offset: lockRegionOffsetLow, OffsetHigh: lockRegionOffsetHigh}
}

// lockHandle takes a non-blocking exclusive LockFileEx on h.
func lockHandle(h FileHandle) error {
	err := windows.LockFileEx(windows.Handle(h.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, lockOverlapped())
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) || errors.Is(err, windows.ERROR_IO_PENDING) {
		return errOSLockBusy
	}
	return err
}

func unlockHandle(h FileHandle) error {
	return windows.UnlockFileEx(windows.Handle(h.Fd()), 0, 1, 0, lockOverlapped())
}
