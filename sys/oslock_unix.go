//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package sys

import (
	"errors"

	"golang.org/x/sys/unix"
)

// lockHandle takes a non-blocking exclusive flock on h. The lock belongs to
// the open file description, so a second open of the same path in this
// process conflicts with it just like another process would.
func lockHandle(h FileHandle) error {
	err := unix.Flock(int(h.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return errOSLockBusy
	}
	return err
}

func unlockHandle(h FileHandle) error {
	return unix.Flock(int(h.Fd()), unix.LOCK_UN)
}
