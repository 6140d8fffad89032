// Package fsutil implements the small set of filesystem primitives patchkit
// needs beyond the standard library: atomic file replacement, path
// normalization, and a root-relative regular-file walk.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit-io/patchkit/pkg/logging"
	"github.com/patchkit-io/patchkit/pkg/must"
)

// WriteFileAtomic writes data to path using an intermediate temporary file
// that is swapped into place with a rename, so readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte, permissions os.FileMode, logger *logging.Logger) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), ".patchkit-atomic-write-*")
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if _, err = temporary.Write(data); err != nil {
		must.Close(temporary, logger)
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to write data to temporary file: %w", err)
	}

	if err = temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to close temporary file: %w", err)
	}

	if err = os.Chmod(temporary.Name(), permissions); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to change file permissions: %w", err)
	}

	if err = os.Rename(temporary.Name(), path); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to rename file into place: %w", err)
	}

	return nil
}

// RemoveIfExists removes the file at path, logging (but not returning) any
// error other than the file already being absent. It's a thin wrapper
// around must.OSRemove kept in fsutil so callers dealing in filesystem
// paths don't need a direct dependency on pkg/must as well.
func RemoveIfExists(path string, logger *logging.Logger) {
	must.OSRemove(path, logger)
}

// CopyFile copies src to dst, preserving src's modification time. The
// orchestrator relies on mtime preservation when staging the stored
// manifest: the downloader's freshness check compares the staging file's
// mtime against the server's Last-Modified, so a copy that reset the mtime
// would defeat the manifest short-circuit entirely. The copy is not itself
// atomic; callers that need atomicity read the source fully and call
// WriteFileAtomic instead.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("unable to stat source file: %w", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("unable to write destination file: %w", err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("unable to preserve modification time: %w", err)
	}
	return nil
}
