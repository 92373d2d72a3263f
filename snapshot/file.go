package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/sys"
)

// ExportFile writes a snapshot to path using write-and-rename: the stream
// goes to path+".tmp", is fsynced and closed, then renamed over path. A
// failed export leaves any previous snapshot at path untouched.
func ExportFile(ctx context.Context, src Folder, path string, c core.Compressor, opts Options) (stats Stats, err error) {
	tempPath := path + ".tmp"
	file, err := sys.Create(tempPath)
	if err != nil {
		return stats, fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			sys.Remove(tempPath)
		}
	}()

	bw := bufio.NewWriter(file)
	if stats, err = ExportWithOptions(ctx, src, bw, c, opts); err != nil {
		return stats, err
	}
	if err = bw.Flush(); err != nil {
		return stats, fmt.Errorf("failed to flush snapshot file: %w", err)
	}
	if err = file.Sync(); err != nil {
		return stats, fmt.Errorf("failed to sync temp snapshot file: %w", err)
	}
	// Close before rename for Windows.
	if err = file.Close(); err != nil {
		return stats, fmt.Errorf("failed to close temp snapshot file before rename: %w", err)
	}
	if err = os.Rename(tempPath, path); err != nil {
		return stats, fmt.Errorf("failed to rename temp snapshot file: %w", err)
	}
	return stats, nil
}

// ImportFile loads the snapshot at path into dst.
func ImportFile(ctx context.Context, path string, dst Putter, opts Options) (Stats, error) {
	file, err := sys.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()
	return ImportWithOptions(ctx, bufio.NewReader(file), dst, opts)
}
