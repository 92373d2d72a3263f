package keydir

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/INLOpen/bitcask/core"
)

// KeyDir maps each key to the location of its newest entry.
type KeyDir struct {
	dir string

	mu      sync.RWMutex
	entries map[string]core.IndexEntry

	readyOnce sync.Once
	readyCh   chan struct{}
	// readyErr is set by Abort before readyCh closes.
	readyErr error
	ready    bool

	refs int // guarded by the owning registry's mutex
}

// New returns an empty, not-ready KeyDir for dir.
func New(dir string) *KeyDir {
	return &KeyDir{
		dir:     dir,
		entries: make(map[string]core.IndexEntry),
		readyCh: make(chan struct{}),
	}
}

// Dir is the absolute directory this KeyDir indexes.
func (kd *KeyDir) Dir() string { return kd.dir }

// Put stores e for key if the key is absent or e is newer than the stored
// entry. It reports whether e was stored.
func (kd *KeyDir) Put(key []byte, e core.IndexEntry) bool {
	kd.mu.Lock()
	defer kd.mu.Unlock()
	if old, ok := kd.entries[string(key)]; ok && !e.IsNewerThan(old) {
		return false
	}
	kd.entries[string(key)] = e
	return true
}

func (kd *KeyDir) Get(key []byte) (core.IndexEntry, bool) {
	kd.mu.RLock()
	defer kd.mu.RUnlock()
	e, ok := kd.entries[string(key)]
	return e, ok
}

func (kd *KeyDir) Len() int {
	kd.mu.RLock()
	defer kd.mu.RUnlock()
	return len(kd.entries)
}

// Range calls fn for a snapshot of the entries; fn may call back into kd.
// Iteration stops when fn returns false.
func (kd *KeyDir) Range(fn func(key []byte, e core.IndexEntry) bool) {
	type kv struct {
		k string
		e core.IndexEntry
	}
	kd.mu.RLock()
	snap := make([]kv, 0, len(kd.entries))
	for k, e := range kd.entries {
		snap = append(snap, kv{k, e})
	}
	kd.mu.RUnlock()

	for _, item := range snap {
		if !fn([]byte(item.k), item.e) {
			return
		}
	}
}

func (kd *KeyDir) IsReady() bool {
	kd.mu.RLock()
	defer kd.mu.RUnlock()
	return kd.ready
}

// MarkReady publishes the KeyDir and wakes every waiter. Idempotent.
func (kd *KeyDir) MarkReady() {
	kd.finish(nil)
}

func (kd *KeyDir) finish(err error) {
	kd.readyOnce.Do(func() {
		kd.mu.Lock()
		kd.ready = err == nil
		kd.readyErr = err
		kd.mu.Unlock()
		close(kd.readyCh)
	})
}

// WaitReady blocks until the KeyDir is ready, its warm-up was aborted,
// timeout elapses or ctx is done. A non-positive timeout waits on ctx only.
func (kd *KeyDir) WaitReady(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-kd.readyCh:
		kd.mu.RLock()
		err := kd.readyErr
		kd.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("keydir warm-up for %s failed: %w", kd.dir, err)
		}
		return nil
	case <-timer:
		return fmt.Errorf("%w: %s after %s", core.ErrKeyDirWarmupTimeout, kd.dir, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", core.ErrKeyDirWarmupTimeout, kd.dir, ctx.Err())
	}
}
