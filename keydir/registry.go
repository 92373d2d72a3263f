package keydir

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

var errWarmupAborted = errors.New("keydir warm-up aborted")

// Registry hands out one shared KeyDir per absolute directory.
type Registry struct {
	mu   sync.Mutex
	dirs map[string]*KeyDir
}

func NewRegistry() *Registry {
	return &Registry{dirs: make(map[string]*KeyDir)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry is the process-wide registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Acquire returns the KeyDir for dir and takes a reference on it. The first
// caller gets a not-ready KeyDir and is responsible for warming it up and
// calling MarkReady or Abort. Later callers wait up to openTimeout for it.
func (r *Registry) Acquire(ctx context.Context, dir string, openTimeout time.Duration) (*KeyDir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve keydir path %s: %w", dir, err)
	}

	r.mu.Lock()
	kd, ok := r.dirs[abs]
	if !ok {
		kd = New(abs)
		kd.refs = 1
		r.dirs[abs] = kd
		r.mu.Unlock()
		return kd, nil
	}
	kd.refs++
	r.mu.Unlock()

	if err := kd.WaitReady(ctx, openTimeout); err != nil {
		r.Release(kd)
		return nil, err
	}
	return kd, nil
}

// Release drops a reference. The directory is forgotten when the last
// reference goes, so the next Acquire rescans the files.
func (r *Registry) Release(kd *KeyDir) {
	if kd == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kd.refs--
	if kd.refs <= 0 && r.dirs[kd.dir] == kd {
		delete(r.dirs, kd.dir)
	}
}

// Abort fails a warm-up: waiters are woken with err and the directory is
// forgotten so a later Acquire starts over. The caller's reference is
// dropped.
func (r *Registry) Abort(kd *KeyDir, err error) {
	if kd == nil {
		return
	}
	if err == nil {
		err = errWarmupAborted
	}
	r.mu.Lock()
	if r.dirs[kd.dir] == kd {
		delete(r.dirs, kd.dir)
	}
	kd.refs--
	r.mu.Unlock()
	kd.finish(err)
}

// Len is the number of directories currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirs)
}
