package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/metrics"
	"receiptsync/internal/retry"
)

// lockBackoff paces retries of BEGIN while another connection holds the
// SQLite write lock.
var lockBackoff = retry.BackoffConfig{
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// retryableDBOperationNoReturn retries operation while SQLite reports a
// transient lock or I/O error. It is used for opening transactions only;
// the work done inside a transaction is never replayed.
func retryableDBOperationNoReturn(ctx context.Context, operation func() error, operationName string) error {
	backoff := retry.NewBackoff(lockBackoff).OnRetry(func(int, time.Duration, error) {
		metrics.IncrementCounter("database_lock_retries_total", map[string]string{"operation": operationName}, "Retries of a locked database operation")
	})

	err := backoff.RetryWithPredicate(ctx, func(context.Context) error {
		return operation()
	}, isRetryableDBError)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case !isRetryableDBError(err):
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	default:
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, lockBackoff.MaxAttempts, err)
	}
}

// isRetryableDBError reports whether err is a transient SQLite condition
func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	for _, transient := range []string{"database is locked", "database table is locked", "disk I/O error"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}
