package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/resilience"
)

var errTransient = errors.New("transient")

func fastRetry(maxRetries uint64) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0

	got, err := resilience.Retry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustedWrapsLastError(t *testing.T) {
	attempts := 0

	_, err := resilience.Retry(context.Background(), fastRetry(2), func(context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errTransient) }
	attempts := 0

	_, err := resilience.Retry(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		return "", permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resilience.Retry(ctx, fastRetry(5), func(context.Context) (int, error) {
		return 0, errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("test")
	cfg.ReadyToTrip = resilience.ConsecutiveFailures(2)
	cb := resilience.NewCircuitBreaker[int](cfg)

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errTransient })
		require.ErrorIs(t, err, errTransient)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (int, error) { return 1, nil })
	assert.True(t, resilience.IsOpen(err))
}

func TestDefaultReadyToTrip(t *testing.T) {
	assert.False(t, resilience.DefaultReadyToTrip(gobreaker.Counts{}))
	assert.False(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 4}))
	assert.True(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 6, TotalFailures: 3}))
	assert.False(t, resilience.DefaultReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 4}))
}
