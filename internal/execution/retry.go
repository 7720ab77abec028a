package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds provider retries.
type RetryConfig struct {
	// MaxAttempts counts the first request. 1 means no retries.
	MaxAttempts int
	// BaseBackoff is the first delay; each further delay doubles it.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxJitter is the maximum random delay added to each backoff.
	MaxJitter time.Duration
	Logger    *slog.Logger
}

// Validate checks that the retry configuration has valid values.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 {
		return errors.New("backoff durations cannot be negative")
	}
	return nil
}

// DefaultRetryConfig waits 1s, 2s, 4s ... up to 20s between attempts.
func DefaultRetryConfig(maxAttempts int) RetryConfig {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  20 * time.Second,
		MaxJitter:   1 * time.Second,
	}
}

// RetryWithBackoff runs fn until it succeeds, returns an error isRetryable
// rejects, or MaxAttempts is reached. Backoff waits are cut short by ctx.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}

		if !isRetryable(lastErr) {
			return result, lastErr
		}

		if attempt+1 >= attempts {
			break
		}

		// BaseBackoff * 2^attempt, capped at MaxBackoff
		backoff := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)

		var jitter time.Duration
		if cfg.MaxJitter > 0 {
			jitter = rand.N(cfg.MaxJitter)
		}

		logger.Warn("transient provider error, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"backoff", backoff+jitter,
			"error", lastErr.Error())

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%s: %w", operation, errors.Join(ctx.Err(), lastErr))
		case <-time.After(backoff + jitter):
		}
	}

	return result, fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
