package ort

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockPollInterval = 50 * time.Millisecond

// withProcessFileLock runs fn while holding an exclusive lock on lockPath.
// Contended locks are retried until timeout elapses or ctx is done, so
// concurrent bootstraps in one or several processes serialise on the file.
func withProcessFileLock(ctx context.Context, lockPath string, timeout time.Duration, fn func() error) (err error) {
	if fn == nil {
		return fmt.Errorf("lock callback cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	if err := acquireFileLock(ctx, file, timeout); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to acquire lock %q: %w", lockPath, err)
	}
	defer func() {
		err = errors.Join(err, unlockFile(file), file.Close())
	}()

	return fn()
}

func acquireFileLock(ctx context.Context, file *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		err := tryLockFile(file)
		if err == nil {
			return nil
		}
		if !isLockContended(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for lock: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
