package retry

import (
	"context"
	"math/rand"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"
	"receiptsync/internal/models"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts of zero or less retries until the context ends.
	MaxAttempts int
	Jitter      bool
}

// DefaultBackoffConfig returns the configuration used when none is given
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultMaxAttempts,
		Jitter:       true,
	}
}

// FromRetryConfig converts the retry section of the configuration file
func FromRetryConfig(cfg models.RetryConfig) BackoffConfig {
	c := DefaultBackoffConfig()
	if cfg.InitialBackoffMs > 0 {
		c.InitialDelay = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		c.MaxDelay = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	if cfg.MaxAttempts > 0 {
		c.MaxAttempts = cfg.MaxAttempts
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config  BackoffConfig
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Backoff{config: config}
}

// OnRetry registers a callback invoked before each wait, typically for logging
func (b *Backoff) OnRetry(fn func(attempt int, delay time.Duration, err error)) *Backoff {
	b.onRetry = fn
	return b
}

// Retry runs operation until it succeeds, attempts run out or ctx ends.
// Errors are retried only when errors.IsRetryable reports them so; anything
// else is returned at once.
func (b *Backoff) Retry(ctx context.Context, operation func(ctx context.Context) error) error {
	return b.RetryWithPredicate(ctx, operation, errors.IsRetryable)
}

// RetryWithPredicate is Retry with a caller supplied retryability test
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func(ctx context.Context) error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; b.config.MaxAttempts <= 0 || attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.config.MaxAttempts {
			return err
		}

		delay := b.Delay(attempt)
		if b.onRetry != nil {
			b.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// Delay returns the wait after the given failed attempt, starting at 1
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt && delay < float64(b.config.MaxDelay); i++ {
		delay *= b.config.Multiplier
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// +/-25%, clamped to [InitialDelay, MaxDelay]
	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if delay < float64(b.config.InitialDelay) {
			delay = float64(b.config.InitialDelay)
		}
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}
