//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package sys

func lockHandle(h FileHandle) error {
	return ErrOSFileLockNotSupported
}

func unlockHandle(h FileHandle) error {
	return nil
}
