package fsx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockTimeout    = 30 * time.Second
	lockRetry      = 10 * time.Millisecond
	lockStaleAfter = 2 * time.Minute
)

// AppendLocked appends block to path while holding path+".lock". The block is
// written with one write call and gets a trailing newline when it lacks one,
// so concurrent writers never interleave records.
func AppendLocked(path string, block []byte, mode os.FileMode) error {
	target, err := cleanTarget(path)
	if err != nil {
		return err
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	payload := block
	if !bytes.HasSuffix(payload, []byte("\n")) {
		payload = append(append(make([]byte, 0, len(block)+1), block...), '\n')
	}

	return withLock(target+".lock", func() error {
		// #nosec G304 -- target is a cleaned absolute or local path.
		file, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("open %s: %w", filepath.Base(target), err)
		}
		defer func() {
			_ = file.Close()
		}()
		if _, err := file.Write(payload); err != nil {
			return fmt.Errorf("append %s: %w", filepath.Base(target), err)
		}
		return file.Sync()
	})
}

func withLock(lockPath string, fn func() error) error {
	deadline := time.Now().Add(lockTimeout)
	for {
		// #nosec G304 -- lock path is derived from a cleaned target path.
		lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lock.Close()
			defer func() {
				_ = os.Remove(lockPath)
			}()
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire %s: %w", filepath.Base(lockPath), err)
		}
		if lockIsStale(lockPath, time.Now()) {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", filepath.Base(lockPath))
		}
		time.Sleep(lockRetry)
	}
}

// lockIsStale reports a lock left behind by a writer that died holding it.
func lockIsStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > lockStaleAfter
}
