package sys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/bitcask/core"
)

// LockRole names one of the two advisory locks kept in a store directory.
type LockRole string

const (
	LockWrite LockRole = "write"
	LockMerge LockRole = "merge"
)

// StaleStatus is the outcome of DeleteStaleLock.
type StaleStatus int

const (
	// StaleOK means no lock file remains: it was absent or has been removed.
	StaleOK StaleStatus = iota
	// StaleNotStale means the lock file belongs to a live holder or could not be judged.
	StaleNotStale
)

func (s StaleStatus) String() string {
	if s == StaleOK {
		return "ok"
	}
	return "not_stale"
}

var (
	ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")
	errOSLockBusy             = errors.New("os file lock is held")
)

// DefaultLockStaleTTL is how old a lock file with unreadable contents must
// be before it is considered abandoned.
var DefaultLockStaleTTL = 30 * time.Second

// SetDefaultLockStaleTTL updates DefaultLockStaleTTL.
func SetDefaultLockStaleTTL(d time.Duration) {
	DefaultLockStaleTTL = d
}

const (
	lockInitialBackoff = time.Millisecond
	lockMaxBackoff     = 50 * time.Millisecond
	osLockAttempts     = 5
)

// LockPath returns the lock file path for role in dir.
func LockPath(role LockRole, dir string) string {
	return filepath.Join(dir, "bitcask."+string(role)+".lock")
}

// Lock is an open lock file. Only the creator handle returned by
// AcquireLock is writable.
type Lock struct {
	mu       sync.Mutex
	role     LockRole
	path     string
	h        FileHandle
	pid      int
	writable bool
	osLocked bool
	released bool
}

func (l *Lock) Role() LockRole { return l.role }
func (l *Lock) Path() string   { return l.path }

// AcquireLock creates the lock file for role in dir exclusively. When the
// file already exists it asks DeleteStaleLock to reclaim it and retries with
// backoff until ctx is done.
func AcquireLock(ctx context.Context, role LockRole, dir string) (*Lock, error) {
	path := LockPath(role, dir)
	backoff := lockInitialBackoff
	for {
		h, err := OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			l, lerr := newCreatorLock(role, path, h)
			if lerr == nil {
				return l, nil
			}
			if !errors.Is(lerr, errOSLockBusy) {
				return nil, lerr
			}
		} else if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}

		status, _ := DeleteStaleLock(role, dir)
		if status == StaleOK {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", core.ErrLockHeld, path, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > lockMaxBackoff {
			backoff = lockMaxBackoff
		}
	}
}

func newCreatorLock(role LockRole, path string, h FileHandle) (*Lock, error) {
	l := &Lock{role: role, path: path, h: h, pid: CurrentPID(), writable: true}

	var err error
	for i := 0; i < osLockAttempts; i++ {
		// A concurrent stale probe may hold the OS lock for a moment.
		if err = lockHandle(h); !errors.Is(err, errOSLockBusy) {
			break
		}
		time.Sleep(lockInitialBackoff)
	}
	switch {
	case err == nil:
		l.osLocked = true
	case errors.Is(err, ErrOSFileLockNotSupported):
	default:
		h.Close()
		Remove(path)
		if errors.Is(err, errOSLockBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := l.rewrite(""); err != nil {
		l.Release()
		Remove(path)
		return nil, err
	}
	return l, nil
}

func (l *Lock) rewrite(activePath string) error {
	content := []byte(fmt.Sprintf("%d %s\n", l.pid, activePath))
	if err := l.h.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file %s: %w", l.path, err)
	}
	if err := WriteFullAt(l.h, content, 0); err != nil {
		return fmt.Errorf("write lock file %s: %w", l.path, err)
	}
	return nil
}

// WriteActiveFile publishes path as the file this lock's holder is writing.
func (l *Lock) WriteActiveFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.writable || l.released {
		return core.ErrLockNotWritable
	}
	return l.rewrite(path)
}

// Release un-publishes the active file, drops the OS lock and closes the
// handle. The lock file itself is left on disk; the next acquirer reclaims
// it through the stale check.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	var errs []error
	if l.writable {
		if err := l.rewrite(""); err != nil {
			errs = append(errs, err)
		}
	}
	if l.osLocked {
		if err := unlockHandle(l.h); err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", l.path, err))
		}
	}
	if err := l.h.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LockInfo describes a lock file as found on disk.
type LockInfo struct {
	Path       string
	PID        int
	ActiveFile string
	Held       bool
}

func parseLockContents(b []byte) (pid int, active string, ok bool) {
	s := strings.TrimSuffix(string(b), "\n")
	pidStr, rest, _ := strings.Cut(s, " ")
	p, err := strconv.Atoi(strings.TrimSpace(pidStr))
	if err != nil {
		return 0, "", false
	}
	return p, strings.TrimSpace(rest), true
}

func readLockFile(h FileHandle) ([]byte, error) {
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(h, 64*1024))
}

// ReadActiveFile returns the active file published in the role's lock file.
// Any error reads as "no active file".
func ReadActiveFile(role LockRole, dir string) (string, bool) {
	h, err := Open(LockPath(role, dir))
	if err != nil {
		return "", false
	}
	defer h.Close()
	b, err := readLockFile(h)
	if err != nil {
		return "", false
	}
	_, active, ok := parseLockContents(b)
	if !ok || active == "" {
		return "", false
	}
	return active, true
}

// InspectLock reports the lock file's recorded pid, active file and whether
// an OS lock is currently held on it.
func InspectLock(role LockRole, dir string) (LockInfo, error) {
	path := LockPath(role, dir)
	info := LockInfo{Path: path}
	h, err := Open(path)
	if err != nil {
		return info, err
	}
	defer h.Close()

	held, err := probeHeld(h)
	if err == nil {
		info.Held = held
	}
	b, err := readLockFile(h)
	if err != nil {
		return info, err
	}
	if pid, active, ok := parseLockContents(b); ok {
		info.PID = pid
		info.ActiveFile = active
	}
	return info, nil
}

// probeHeld tries the OS lock on h. If it can be taken it is released
// immediately and the lock counts as not held.
func probeHeld(h FileHandle) (bool, error) {
	err := lockHandle(h)
	if err == nil {
		return false, unlockHandle(h)
	}
	if errors.Is(err, errOSLockBusy) {
		return true, nil
	}
	return false, err
}

// DeleteStaleLock removes the role's lock file when its holder is gone.
func DeleteStaleLock(role LockRole, dir string) (StaleStatus, error) {
	path := LockPath(role, dir)
	h, err := Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StaleOK, nil
	}
	if err != nil {
		return StaleNotStale, err
	}
	defer h.Close()

	held, probeErr := probeHeld(h)
	if probeErr == nil && held {
		return StaleNotStale, nil
	}

	b, err := readLockFile(h)
	if err != nil {
		return StaleNotStale, err
	}
	pid, _, ok := parseLockContents(b)
	switch {
	case !ok:
		// A creator that has not written its pid yet looks the same as a
		// corrupt file; only age tells them apart.
		st, err := h.Stat()
		if err != nil || time.Since(st.ModTime()) <= DefaultLockStaleTTL {
			return StaleNotStale, err
		}
	case !PIDAlive(pid):
	case probeErr == nil:
		// pid alive but nobody holds the OS lock: released or pid reused.
	default:
		return StaleNotStale, nil
	}

	if err := removeIfSame(path, h); err != nil {
		return StaleNotStale, err
	}
	return StaleOK, nil
}

// removeIfSame deletes path only if it still names the file open in h.
func removeIfSame(path string, h FileHandle) error {
	open, err := h.Stat()
	if err != nil {
		return err
	}
	cur, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !os.SameFile(open, cur) {
		return errOSLockBusy
	}
	return Remove(path)
}
