package engine

import (
	"context"
	"fmt"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/logfile"
	"github.com/INLOpen/bitcask/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Put stores value under key. The newest put of a key wins.
func (s *Store) Put(ctx context.Context, key, value []byte) (err error) {
	start := s.opts.Clock.Now()
	ctx, span := s.tracer.Start(ctx, "Store.Put")
	defer func() {
		d := observeSince(s.metrics.PutLatencyHist, start, s.opts.Clock.Now())
		span.SetAttributes(attribute.Float64("duration_seconds", d))
		if err != nil {
			incr(s.metrics.PutErrorsTotal, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "put_failed")
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("db.system", "bitcask"),
		attribute.String("db.operation", "put"),
		attribute.Int("db.key_size", len(key)),
		attribute.Int("db.value_size", len(value)),
	)
	incr(s.metrics.PutTotal, 1)

	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.opts.ReadWrite {
		return core.ErrReadOnlyStore
	}

	if err := s.hookManager.Trigger(ctx, hooks.NewPrePutEvent(hooks.PrePutPayload{Key: &key, Value: &value})); err != nil {
		return fmt.Errorf("put cancelled by pre-hook: %w", err)
	}

	entry, err := s.write(ctx, key, value)
	s.hookManager.Trigger(ctx, hooks.NewPostPutEvent(hooks.PostPutPayload{
		Key:       key,
		ValueSize: len(value),
		Entry:     entry,
		Error:     err,
	}))
	return err
}

// Delete writes a tombstone for key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key []byte) (err error) {
	start := s.opts.Clock.Now()
	ctx, span := s.tracer.Start(ctx, "Store.Delete")
	defer func() {
		observeSince(s.metrics.DeleteLatencyHist, start, s.opts.Clock.Now())
		if err != nil {
			incr(s.metrics.DeleteErrorsTotal, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "delete_failed")
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("db.system", "bitcask"),
		attribute.String("db.operation", "delete"),
		attribute.Int("db.key_size", len(key)),
	)
	incr(s.metrics.DeleteTotal, 1)

	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.opts.ReadWrite {
		return core.ErrReadOnlyStore
	}

	if err := s.hookManager.Trigger(ctx, hooks.NewPreDeleteEvent(hooks.PreDeletePayload{Key: &key})); err != nil {
		return fmt.Errorf("delete cancelled by pre-hook: %w", err)
	}

	_, err = s.write(ctx, key, core.Tombstone)
	s.hookManager.Trigger(ctx, hooks.NewPostDeleteEvent(hooks.PostDeletePayload{Key: key, Error: err}))
	return err
}

// write runs the Fresh/Wrap/Ok decision, appends the entry and indexes it.
func (s *Store) write(ctx context.Context, key, value []byte) (core.IndexEntry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkOpen(); err != nil {
		return core.IndexEntry{}, err
	}

	wf := s.writeFile.Load()
	switch wf.CheckWrite(key, value, s.opts.MaxFileSize) {
	case logfile.WriteFresh:
		if err := s.startWriteFile(ctx); err != nil {
			return core.IndexEntry{}, err
		}
	case logfile.WriteWrap:
		if err := s.rotate(ctx, wf); err != nil {
			return core.IndexEntry{}, err
		}
	case logfile.WriteOK:
	}

	wf = s.writeFile.Load()
	entry, err := wf.Write(key, value)
	if err != nil {
		s.logger.Error("Failed to append entry.", "file_id", wf.FileID(), "error", err)
		return core.IndexEntry{}, err
	}
	incr(s.metrics.BytesWrittenTotal, int64(entry.TotalSize))
	s.keydir.Put(key, entry)
	return entry, nil
}

// startWriteFile takes the write lock and creates the first write file.
// Must be called with writeMu held.
func (s *Store) startWriteFile(ctx context.Context) error {
	if s.writeLock == nil {
		lctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
		defer cancel()
		l, err := sys.AcquireLock(lctx, sys.LockWrite, s.dir)
		if err != nil {
			return fmt.Errorf("failed to acquire write lock for %s: %w", s.dir, err)
		}
		s.writeLock = l
	}
	lf, err := s.createWriteFile()
	if err != nil {
		return err
	}
	s.writeFile.Store(lf)
	return nil
}

func (s *Store) createWriteFile() (*logfile.LogFile, error) {
	lf, err := logfile.Create(s.dir, s.nextFileID(), s.lfOpts)
	if err != nil {
		return nil, err
	}
	if err := s.writeLock.WriteActiveFile(lf.Path()); err != nil {
		lf.Close()
		return nil, fmt.Errorf("failed to publish active file %s: %w", lf.Path(), err)
	}
	s.bumpLastFileID(lf.FileID())
	incr(s.metrics.LogFilesCreatedTotal, 1)
	return lf, nil
}

// rotate replaces old with a new write file and seals old. The new file is
// created first so a failed create leaves old in place; the next put tries
// again. The sealed file keeps serving reads from the read cache. Must be
// called with writeMu held.
func (s *Store) rotate(ctx context.Context, old *logfile.LogFile) error {
	lf, err := s.createWriteFile()
	if err != nil {
		return err
	}
	if err := old.CloseForWriting(); err != nil {
		s.logger.Error("Failed to seal rotated write file.", "file_id", old.FileID(), "path", old.Path(), "error", err)
	}
	s.readFiles.Put(old.FileID(), old)
	s.writeFile.Store(lf)
	incr(s.metrics.RotationsTotal, 1)

	s.logger.Info("Rotated write file.", "old_file_id", old.FileID(), "old_size", old.Size(), "new_file_id", lf.FileID())
	s.hookManager.Trigger(ctx, hooks.NewPostLogFileRotateEvent(hooks.LogFileRotatePayload{
		OldFileID: old.FileID(),
		OldPath:   old.Path(),
		OldSize:   old.Size(),
		NewFileID: lf.FileID(),
		NewPath:   lf.Path(),
	}))
	return nil
}
