package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMaxRetriesExceeded is returned when all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 10
	MaxRetries uint64

	// InitialInterval is the first backoff interval.
	// Default: 5ms
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval.
	// Default: 250ms
	MaxInterval time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Errors it rejects are returned immediately. If nil, every error is retried.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the defaults used for store operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      10,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

// Retry runs op until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. Exhaustion is reported as
// ErrMaxRetriesExceeded wrapping the last error.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	def := DefaultRetryConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = def.MaxInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries

	var lastErr error
	exhausted := true

	result, err := backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			exhausted = false
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx))

	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if exhausted && lastErr != nil {
		return result, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
	}
	return result, err
}
