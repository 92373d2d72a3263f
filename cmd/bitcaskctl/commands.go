package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/INLOpen/bitcask/compressors"
	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/engine"
	"github.com/INLOpen/bitcask/snapshot"
	"github.com/INLOpen/bitcask/sys"
)

var errUsage = errors.New("wrong number of arguments")

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	want := map[string]int{
		"put": 2, "get": 1, "delete": 1, "keys": 0, "fold": 0,
		"files": 0, "locks": 0, "export": 1, "import": 1,
	}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) != n {
		return fmt.Errorf("%s: %w (want %d)", cmd, errUsage, n)
	}

	switch cmd {
	case "put":
		return c.withStore(ctx, func(s *engine.Store) error {
			return s.Put(ctx, []byte(args[0]), []byte(args[1]))
		})
	case "get":
		return c.withStore(ctx, func(s *engine.Store) error {
			v, err := s.Get(ctx, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s\n", v)
			return nil
		})
	case "delete":
		return c.withStore(ctx, func(s *engine.Store) error {
			return s.Delete(ctx, []byte(args[0]))
		})
	case "keys":
		return c.withStore(ctx, func(s *engine.Store) error {
			keys, err := s.Keys(ctx)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(c.stdout, "%s\n", k)
			}
			return nil
		})
	case "fold":
		return c.withStore(ctx, func(s *engine.Store) error {
			return s.Fold(ctx, func(key, value []byte) error {
				_, err := fmt.Fprintf(c.stdout, "%s\t%s\n", key, value)
				return err
			})
		})
	case "files":
		return c.withStore(ctx, c.files)
	case "locks":
		return c.locks()
	case "export":
		return c.withStore(ctx, func(s *engine.Store) error { return c.export(ctx, s, args[0]) })
	case "import":
		return c.withStore(ctx, func(s *engine.Store) error { return c.importFrom(ctx, s, args[0]) })
	}
	return nil
}

func (c *cli) files(s *engine.Store) error {
	paths, err := s.ReadableFiles()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tHINT\tPATH")
	for _, p := range paths {
		id, _ := core.ParseDataFileName(filepath.Base(p))
		var size int64
		if fi, err := os.Stat(p); err == nil {
			size = fi.Size()
		}
		_, herr := os.Stat(core.HintFileName(p))
		fmt.Fprintf(w, "%d\t%d\t%t\t%s\n", id, size, herr == nil, p)
	}
	return w.Flush()
}

func (c *cli) locks() error {
	dir, err := filepath.Abs(c.cfg.Engine.DataDir)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ROLE\tPID\tALIVE\tHELD\tACTIVE FILE")
	for _, role := range []sys.LockRole{sys.LockWrite, sys.LockMerge} {
		info, err := sys.InspectLock(role, dir)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", role)
			continue
		}
		if err != nil {
			return fmt.Errorf("inspect %s lock: %w", role, err)
		}
		active := info.ActiveFile
		if active == "" {
			active = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%t\t%s\n", role, info.PID, sys.PIDAlive(info.PID), info.Held, active)
	}
	return w.Flush()
}

func (c *cli) export(ctx context.Context, s *engine.Store, target string) error {
	comp, err := compressors.ByName(c.cfg.Snapshot.Compression)
	if err != nil {
		return err
	}
	opts := snapshot.Options{ChunkSize: c.cfg.Snapshot.ChunkSizeBytes, Logger: c.logger}
	if target == "-" {
		bw := bufio.NewWriter(c.stdout)
		if _, err := snapshot.ExportWithOptions(ctx, s, bw, comp, opts); err != nil {
			return err
		}
		return bw.Flush()
	}
	stats, err := snapshot.ExportFile(ctx, s, target, comp, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "exported %d records in %d chunks (%d -> %d bytes, %s)\n",
		stats.Records, stats.Chunks, stats.RawBytes, stats.CompressedBytes, stats.Compression)
	return nil
}

func (c *cli) importFrom(ctx context.Context, s *engine.Store, source string) error {
	opts := snapshot.Options{Logger: c.logger}
	var (
		stats snapshot.Stats
		err   error
	)
	if source == "-" {
		stats, err = snapshot.ImportWithOptions(ctx, bufio.NewReader(c.stdin), s, opts)
	} else {
		stats, err = snapshot.ImportFile(ctx, source, s, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stderr, "imported %d records in %d chunks\n", stats.Records, stats.Chunks)
	return nil
}
