// Package fsx writes the local files a run leaves behind: key pairs, summary
// records and the runner's step files.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with content through a temp file in the same
// directory. Missing parent directories are created.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	target, err := cleanTarget(path)
	if err != nil {
		return err
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	temp, err := os.CreateTemp(parent, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := temp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := temp.Write(content); err != nil {
		_ = temp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Chmod(mode); err != nil {
		_ = temp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(target), err)
	}
	committed = true
	syncDirectory(parent)
	return nil
}

// cleanTarget accepts absolute paths and paths local to the working
// directory. Runner files are always absolute.
func cleanTarget(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || filepath.IsLocal(clean) {
		return clean, nil
	}
	return "", fmt.Errorf("path %q escapes the working directory", path)
}

func syncDirectory(dir string) {
	// #nosec G304 -- dir is the parent of a cleaned target path.
	handle, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = handle.Sync()
	_ = handle.Close()
}
