// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Retry defaults for SQLite lock contention.
const (
	DefaultRetries   = 3
	DefaultBaseDelay = 100 * time.Millisecond
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either form of SQLite lock contention.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetryOnConflict runs fn up to DefaultRetries times, backing off
// exponentially (100ms, 200ms, ...) while fn fails with a SQLite conflict.
// Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	return retryOnConflict(ctx, op, DefaultRetries, DefaultBaseDelay, fn)
}

func retryOnConflict(ctx context.Context, op string, attempts int, base time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == attempts-1 {
			break
		}
		delay := base * time.Duration(1<<i)
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
	}
	return err
}
