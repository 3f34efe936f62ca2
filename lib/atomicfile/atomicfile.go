// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile replaces files so that readers never observe a
// partial write.
//
// [Write] puts the content at "<path>.tmp" in the same directory, fsyncs
// it, renames it over path and then fsyncs the parent directory so the
// rename itself survives power loss. A reader that opens path at any
// moment sees either the previous complete content or the new complete
// content.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// TemporarySuffix is appended to the destination path to name the
// staging file.
const TemporarySuffix = ".tmp"

// Write atomically replaces path with data. The parent directory must
// already exist. On failure the staging file is removed and path is left
// untouched.
func Write(path string, data []byte, perm os.FileMode) error {
	temporaryPath := path + TemporarySuffix

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", temporaryPath, err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing %s: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	// Best effort: some filesystems refuse fsync on directories.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
