// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; later waits double up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ShouldRetry classifies errors as transient. Nil retries every error.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig suits sub-second provider calls on the turn path.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    time.Second,
}

// Do calls fn until it succeeds, the attempts run out, ShouldRetry rejects
// the error, or ctx is done. It returns the number of attempts made.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (int, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, errors.Join(lastErr, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == cfg.MaxAttempts || !shouldRetry(lastErr) {
			return attempt, lastErr
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return cfg.MaxAttempts, lastErr
}
