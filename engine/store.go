package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/bitcask/cache"
	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/keydir"
	"github.com/INLOpen/bitcask/logfile"
	"github.com/INLOpen/bitcask/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var ErrStoreClosed = errors.New("store is closed")

const tracerName = "github.com/INLOpen/bitcask/engine"

// Store is a handle on one bitcask directory. Handles opened on the same
// directory within a process share one KeyDir; at most one handle per
// directory, across processes, holds the write lock.
type Store struct {
	dir         string
	opts        Options
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *EngineMetrics
	hookManager hooks.HookManager
	ownsHooks   bool
	lfOpts      logfile.Options

	keydir *keydir.KeyDir

	// writeMu serializes puts: the Fresh/Wrap/Ok decision, rotation and the
	// append itself.
	writeMu    sync.Mutex
	writeFile  atomic.Pointer[logfile.LogFile]
	writeLock  *sys.Lock
	lastFileID atomic.Uint32

	readFiles *cache.LRUCache[uint32, *logfile.LogFile]
	opening   singleflight.Group

	closed atomic.Bool
}

// Stats is a point-in-time summary of a Store.
type Stats struct {
	Dir             string
	ReadWrite       bool
	Keys            int
	WriteFileID     uint32
	WriteFileSize   uint64
	CachedReadFiles int
	ReadCacheHit    float64
}

// Open opens the store in dir. When the directory's KeyDir is not yet warm
// in this process, Open scans the readable data files to build it; other
// handles opening the same directory meanwhile wait up to OpenTimeout.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory %s: %w", dir, err)
	}

	s := &Store{
		dir:         abs,
		opts:        opts,
		logger:      opts.Logger.With("component", "Store", "dir", abs),
		tracer:      opts.TracerProvider.Tracer(tracerName),
		metrics:     opts.Metrics,
		hookManager: opts.HookManager,
	}
	if s.hookManager == nil {
		s.hookManager = hooks.NewHookManager(opts.Logger.With("component", "HookManager"))
		s.ownsHooks = true
	}
	s.lfOpts = logfile.Options{Clock: opts.Clock, Sync: opts.SyncMode, Logger: opts.Logger}

	ctx, span := s.tracer.Start(ctx, "Store.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "bitcask"),
		attribute.String("db.dir", abs),
		attribute.Bool("db.read_write", opts.ReadWrite),
	)

	if err := s.hookManager.Trigger(ctx, hooks.NewPreOpenStoreEvent(hooks.PreOpenStorePayload{Dir: abs, ReadWrite: opts.ReadWrite})); err != nil {
		return nil, s.failOpen(span, fmt.Errorf("store open cancelled by pre-hook: %w", err))
	}

	if err := os.MkdirAll(filepath.Join(abs, core.StoreSubdir), 0755); err != nil {
		return nil, s.failOpen(span, fmt.Errorf("failed to create store directory %s: %w", abs, err))
	}

	if opts.ReadWrite {
		status, err := sys.DeleteStaleLock(sys.LockWrite, abs)
		if err != nil {
			s.logger.Warn("Could not check write lock for staleness.", "error", err)
		} else if status == sys.StaleNotStale {
			s.logger.Info("Write lock is held by a live process; puts will wait for it.")
		}
	}

	kd, err := opts.Registry.Acquire(ctx, abs, opts.OpenTimeout)
	if err != nil {
		return nil, s.failOpen(span, fmt.Errorf("failed to acquire keydir for %s: %w", abs, err))
	}
	s.keydir = kd

	if !kd.IsReady() {
		if err := s.warmUp(ctx); err != nil {
			opts.Registry.Abort(kd, err)
			return nil, s.failOpen(span, err)
		}
		kd.MarkReady()
	} else if err := s.noteFileIDs(); err != nil {
		opts.Registry.Release(kd)
		return nil, s.failOpen(span, err)
	}

	s.readFiles = cache.NewLRUCache[uint32, *logfile.LogFile](opts.ReadFileCacheCapacity, s.onReadFileEvicted, nil, nil)
	s.readFiles.SetMetrics(s.metrics.CacheHits, s.metrics.CacheMisses)
	s.metrics.publishKeyDirKeys("bitcask_keydir_keys", func() interface{} { return kd.Len() })

	s.hookManager.Trigger(ctx, hooks.NewPostOpenStoreEvent(hooks.PostOpenStorePayload{Dir: abs, ReadWrite: opts.ReadWrite, Keys: kd.Len()}))
	s.logger.Info("Store opened.", "read_write", opts.ReadWrite, "keys", kd.Len())
	return s, nil
}

func (s *Store) failOpen(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "open_failed")
	s.logger.Error("Failed to open store.", "error", err)
	if s.ownsHooks {
		s.hookManager.Stop()
	}
	return err
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// Dir returns the absolute store directory.
func (s *Store) Dir() string { return s.dir }

// HookManager returns the manager the store triggers its events on, so
// callers can register listeners after Open.
func (s *Store) HookManager() hooks.HookManager { return s.hookManager }

// Metrics returns the store's metrics.
func (s *Store) Metrics() *EngineMetrics { return s.metrics }

func (s *Store) Stats() Stats {
	st := Stats{
		Dir:             s.dir,
		ReadWrite:       s.opts.ReadWrite,
		Keys:            s.keydir.Len(),
		CachedReadFiles: s.readFiles.Len(),
		ReadCacheHit:    s.readFiles.GetHitRate(),
	}
	if wf := s.writeFile.Load(); wf != nil {
		st.WriteFileID = wf.FileID()
		st.WriteFileSize = wf.Size()
	}
	return st
}

// Sync flushes the current write file to stable storage.
func (s *Store) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if wf := s.writeFile.Load(); wf != nil {
		return wf.Sync()
	}
	return nil
}

// Close seals the write file, releases the write lock and every open file,
// and drops this handle's reference to the shared KeyDir. Close is
// idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx := context.Background()
	if err := s.hookManager.Trigger(ctx, hooks.NewPreCloseStoreEvent(hooks.PreCloseStorePayload{Dir: s.dir})); err != nil {
		// Pre-close listeners are informational here; a store that cannot
		// close would leak its lock.
		s.logger.Warn("Pre-close hook returned an error.", "error", err)
	}

	var closeErr error
	s.writeMu.Lock()
	if wf := s.writeFile.Swap(nil); wf != nil {
		closeErr = errors.Join(closeErr, wf.Close())
	}
	if s.writeLock != nil {
		closeErr = errors.Join(closeErr, s.writeLock.Release())
		s.writeLock = nil
	}
	s.writeMu.Unlock()

	s.readFiles.Clear()
	s.opts.Registry.Release(s.keydir)

	s.hookManager.Trigger(ctx, hooks.NewPostCloseStoreEvent(hooks.PostCloseStorePayload{Dir: s.dir, Error: closeErr}))
	if s.ownsHooks {
		s.hookManager.Stop()
	}

	if closeErr != nil {
		s.logger.Error("Errors during store close.", "error", closeErr)
		return fmt.Errorf("errors during close: %w", closeErr)
	}
	s.logger.Info("Store closed.")
	return nil
}

func (s *Store) onReadFileEvicted(id uint32, lf *logfile.LogFile) {
	incr(s.metrics.ReadFilesEvictedTotal, 1)
	if err := lf.Close(); err != nil {
		s.logger.Warn("Failed to close evicted read file.", "file_id", id, "error", err)
	}
}
