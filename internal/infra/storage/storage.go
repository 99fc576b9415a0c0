// Package storage provides small utilities for safe local file handling:
//   - EnsureDir makes sure a path's parent directory exists;
//   - AtomicWriteFile writes a file atomically, syncing data and metadata.
//
// Used wherever a partially written file would be worse than a stale one —
// session state, caches, anything read back on the next process start.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"relaycore/internal/infra/logger"
)

// defaultFilePerm restricts the atomically-written file to its owner.
const defaultFilePerm = 0600

// EnsureDir makes sure path's parent directory exists. A path with no
// directory component ("." or "") is a no-op. Created with 0o700.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile atomically writes data to path.
//
// Sequence: temp file in the same directory → write → fsync(temp) →
// chmod(defaultFilePerm) → close → rename → fsync(dir). Either the old file
// survives intact or the new one is written in full. os.Rename is only
// atomic within a single filesystem volume. Directory fsync is best-effort
// and may be ignored by some OS/filesystem combinations, but still improves
// metadata durability.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	var tmp *os.File
	if tmpFile, err := os.CreateTemp(dir, "atomic-*.tmp"); err != nil {
		return fmt.Errorf("create temp file: %w", err)
	} else {
		tmp = tmpFile
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// path must live on the same volume as tmp for this rename to be atomic.
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
