package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/logfile"
	"github.com/INLOpen/bitcask/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Get returns the newest value stored under key. Absent, deleted and
// expired keys all return core.ErrNotFound.
func (s *Store) Get(ctx context.Context, key []byte) (value []byte, err error) {
	start := s.opts.Clock.Now()
	ctx, span := s.tracer.Start(ctx, "Store.Get")
	defer func() {
		d := observeSince(s.metrics.GetLatencyHist, start, s.opts.Clock.Now())
		span.SetAttributes(attribute.Float64("duration_seconds", d), attribute.Bool("db.found", err == nil))
		switch {
		case errors.Is(err, core.ErrNotFound):
			incr(s.metrics.GetMissesTotal, 1)
		case err != nil:
			incr(s.metrics.GetErrorsTotal, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "get_failed")
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("db.system", "bitcask"),
		attribute.String("db.operation", "get"),
		attribute.Int("db.key_size", len(key)),
	)
	incr(s.metrics.GetTotal, 1)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	value, err = s.get(key)
	s.hookManager.Trigger(ctx, hooks.NewPostGetEvent(hooks.PostGetPayload{Key: key, Found: err == nil, Error: err}))
	return value, err
}

// vanished reports errors caused by a file disappearing under a reader:
// removed by a merge, or closed by a concurrent cache eviction.
func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrClosed)
}

func (s *Store) get(key []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		e, ok := s.keydir.Get(key)
		if !ok || s.expired(e.Timestamp) {
			return nil, core.ErrNotFound
		}

		lf, err := s.fileFor(e.FileID)
		if err == nil {
			var v []byte
			_, v, err = lf.Read(e.Offset, e.TotalSize)
			if err == nil {
				if core.IsTombstone(v) {
					return nil, core.ErrNotFound
				}
				return v, nil
			}
		}
		if !vanished(err) {
			return nil, err
		}
		// The keydir may already point somewhere else; look again once.
		lastErr = err
		s.forgetReadFile(e.FileID, lf)
		incr(s.metrics.VanishedRetriesTotal, 1)
		s.logger.Debug("Data file vanished during read, retrying.", "file_id", e.FileID, "error", err)
	}
	return nil, fmt.Errorf("%w: %w", core.ErrVanishedFile, lastErr)
}

func (s *Store) expired(ts uint32) bool {
	if s.opts.ExpirySecs == 0 {
		return false
	}
	now := core.NowSeconds(s.opts.Clock)
	if now < s.opts.ExpirySecs {
		return false
	}
	return ts < now-s.opts.ExpirySecs
}

// fileFor resolves a file id to an open Log File: the write file, a cached
// read file, or a freshly opened one. Concurrent opens of one id share a
// single open.
func (s *Store) fileFor(id uint32) (*logfile.LogFile, error) {
	if wf := s.writeFile.Load(); wf != nil && wf.FileID() == id {
		return wf, nil
	}
	if lf, ok := s.readFiles.Get(id); ok {
		return lf, nil
	}
	v, err, _ := s.opening.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		if lf, ok := s.readFiles.Get(id); ok {
			return lf, nil
		}
		lf, err := logfile.OpenReadOnly(filepath.Join(s.dir, core.DataFileName(id)), s.lfOpts)
		if err != nil {
			return nil, err
		}
		if s.closed.Load() {
			lf.Close()
			return nil, ErrStoreClosed
		}
		incr(s.metrics.ReadFilesOpenedTotal, 1)
		actual, loaded := s.readFiles.GetOrPut(id, lf)
		if loaded {
			lf.Close()
		}
		// Close may have cleared the cache between the check and the put.
		if s.closed.Load() {
			if removed, ok := s.readFiles.Remove(id); ok {
				removed.Close()
			}
			return nil, ErrStoreClosed
		}
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*logfile.LogFile), nil
}

// forgetReadFile drops lf from the read cache if it is still the cached
// file for id, and closes it.
func (s *Store) forgetReadFile(id uint32, lf *logfile.LogFile) {
	if lf == nil {
		return
	}
	cur, ok := s.readFiles.Get(id)
	if !ok || cur != lf {
		return
	}
	if removed, ok := s.readFiles.Remove(id); ok {
		removed.Close()
	}
}

// Fold calls fn with every live key and value: the record the KeyDir
// currently points at, not deleted, not expired. Files are visited oldest
// first; the merge-active file is skipped. fn returning core.ErrStopFold
// ends the fold early without error.
func (s *Store) Fold(ctx context.Context, fn func(key, value []byte) error) (err error) {
	start := s.opts.Clock.Now()
	ctx, span := s.tracer.Start(ctx, "Store.Fold")
	var visited int
	defer func() {
		observeSince(s.metrics.FoldLatencyHist, start, s.opts.Clock.Now())
		span.SetAttributes(attribute.Int("db.records", visited))
		if err != nil {
			incr(s.metrics.FoldErrorsTotal, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "fold_failed")
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("db.system", "bitcask"), attribute.String("db.operation", "fold"))
	incr(s.metrics.FoldTotal, 1)

	if err := s.checkOpen(); err != nil {
		return err
	}

	files, _, err := listDataFiles(s.dir)
	if err != nil {
		return err
	}
	merging := activeFile(sys.LockMerge, s.dir)
	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })

	for _, f := range files {
		if f.path == merging {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := s.foldFile(f, func(key, value []byte) error {
			visited++
			return fn(key, value)
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *Store) foldFile(f dataFile, fn func(key, value []byte) error) (stop bool, err error) {
	lf, err := logfile.OpenReadOnly(f.path, s.lfOpts)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer lf.Close()

	err = lf.Fold(func(rec core.Record) error {
		e, ok := s.keydir.Get(rec.Key)
		if !ok || e.FileID != f.id || e.Offset != rec.Offset {
			return nil
		}
		if core.IsTombstone(rec.Value) || s.expired(rec.Timestamp) {
			return nil
		}
		if err := fn(rec.Key, rec.Value); err != nil {
			if errors.Is(err, core.ErrStopFold) {
				stop = true
			}
			return err
		}
		return nil
	})
	return stop, err
}

// Keys returns every live key. Only entries whose size matches a tombstone
// for their key are read back to tell deletes apart.
func (s *Store) Keys(ctx context.Context) ([][]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		keys   [][]byte
		maybes [][]byte
	)
	s.keydir.Range(func(key []byte, e core.IndexEntry) bool {
		switch {
		case s.expired(e.Timestamp):
		case e.TotalSize == core.TombstoneEntrySize(len(key)):
			maybes = append(maybes, key)
		default:
			keys = append(keys, key)
		}
		return true
	})

	for _, key := range maybes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err := s.get(key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
