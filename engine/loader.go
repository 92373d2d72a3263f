package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/logfile"
	"github.com/INLOpen/bitcask/sys"
	"golang.org/x/sync/errgroup"
)

type dataFile struct {
	id   uint32
	path string
}

// listDataFiles returns every data file in dir, newest first, and the
// highest file id present.
func listDataFiles(dir string) ([]dataFile, uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list store directory %s: %w", dir, err)
	}
	var (
		files []dataFile
		maxID uint32
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := core.ParseDataFileName(e.Name())
		if !ok {
			continue
		}
		files = append(files, dataFile{id: id, path: filepath.Join(dir, e.Name())})
		if id > maxID {
			maxID = id
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].id > files[j].id })
	return files, maxID, nil
}

func activeFile(role sys.LockRole, dir string) string {
	p, ok := sys.ReadActiveFile(role, dir)
	if !ok {
		return ""
	}
	return filepath.Clean(p)
}

// readableFiles lists the data files other handles may read: everything
// except the files currently published as write- or merge-active.
func (s *Store) readableFiles() ([]dataFile, uint32, error) {
	files, maxID, err := listDataFiles(s.dir)
	if err != nil {
		return nil, 0, err
	}
	writing := activeFile(sys.LockWrite, s.dir)
	merging := activeFile(sys.LockMerge, s.dir)
	out := files[:0]
	for _, f := range files {
		if f.path == writing || f.path == merging {
			continue
		}
		out = append(out, f)
	}
	return out, maxID, nil
}

// ReadableFiles returns the paths of the readable data files, newest first.
func (s *Store) ReadableFiles() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	files, _, err := s.readableFiles()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func (s *Store) noteFileIDs() error {
	_, maxID, err := listDataFiles(s.dir)
	if err != nil {
		return err
	}
	s.bumpLastFileID(maxID)
	return nil
}

func (s *Store) bumpLastFileID(id uint32) {
	for {
		cur := s.lastFileID.Load()
		if id <= cur || s.lastFileID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// warmUp folds the keys of every readable file into the KeyDir. Files are
// scanned concurrently; the KeyDir's ordering makes the result independent
// of scan order.
func (s *Store) warmUp(ctx context.Context) error {
	start := s.opts.Clock.Now()
	files, maxID, err := s.readableFiles()
	if err != nil {
		return err
	}
	s.bumpLastFileID(maxID)

	var keys atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ScanConcurrency)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := s.scanFile(f)
			keys.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("KeyDir warm-up failed.", "error", err)
		return fmt.Errorf("keydir warm-up of %s failed: %w", s.dir, err)
	}

	elapsed := s.opts.Clock.Now().Sub(start)
	incr(s.metrics.WarmupFilesTotal, int64(len(files)))
	incr(s.metrics.WarmupKeysTotal, keys.Load())
	if s.metrics.WarmupDurationSeconds != nil {
		s.metrics.WarmupDurationSeconds.Set(elapsed.Seconds())
	}
	s.logger.Info("KeyDir warm-up complete.", "files", len(files), "keys", keys.Load(), "duration", elapsed)
	s.hookManager.Trigger(ctx, hooks.NewPostKeyDirReadyEvent(hooks.KeyDirReadyPayload{
		Dir:      s.dir,
		Files:    len(files),
		Keys:     s.keydir.Len(),
		Duration: elapsed,
	}))
	return nil
}

func (s *Store) scanFile(f dataFile) (int64, error) {
	lf, err := logfile.OpenReadOnly(f.path, s.lfOpts)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed by a merge after listing; its keys live in newer files.
		s.logger.Debug("Data file vanished during warm-up.", "path", f.path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer lf.Close()

	var n int64
	err = lf.FoldKeys(func(k core.KeyRecord) error {
		s.keydir.Put(k.Key, core.IndexEntry{
			FileID:    f.id,
			Timestamp: k.Timestamp,
			Offset:    k.Offset,
			TotalSize: k.Size,
		})
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to scan %s: %w", f.path, err)
	}
	return n, nil
}

// nextFileID picks the id for a new write file: the current time in
// seconds, but never at or below an id already seen in the directory.
func (s *Store) nextFileID() uint32 {
	id := core.NowSeconds(s.opts.Clock)
	if last := s.lastFileID.Load(); id <= last {
		id = last + 1
	}
	return id
}
