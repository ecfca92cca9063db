package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfinder/camfinder/internal/clock"
	"github.com/camfinder/camfinder/internal/entitlement"
	"github.com/camfinder/camfinder/internal/worker"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeExpirer is a scripted Expirer.
type fakeExpirer struct {
	mu        sync.Mutex
	ids       []string
	listErr   error
	expireErr map[string]error
	expired   []string
	panicOn   string
}

func (f *fakeExpirer) ListExpired(context.Context, time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...), f.listErr
}

func (f *fakeExpirer) Expire(_ context.Context, id string) (bool, error) {
	if id == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.expireErr[id]; err != nil {
		return false, err
	}
	f.expired = append(f.expired, id)
	return true, nil
}

func newJob(expirer worker.Expirer, cfg worker.SweepConfig) *worker.SweepJob {
	return worker.NewSweepJob(worker.SweepJobConfig{
		Config:  cfg,
		Logger:  zerolog.Nop(),
		Expirer: expirer,
		Clock:   clock.NewFake(t0),
	})
}

func TestDefaultSweepConfig(t *testing.T) {
	cfg := worker.DefaultSweepConfig()

	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(3), cfg.BreakerFailures)
	assert.Equal(t, time.Minute, cfg.BreakerCooldown)
}

func TestSweepJob_Run(t *testing.T) {
	expirer := &fakeExpirer{
		ids:       []string{"a", "b", "c"},
		expireErr: map[string]error{"b": entitlement.ErrStoreUnavailable},
	}
	job := newJob(expirer, worker.SweepConfig{Concurrency: 2})

	result := job.Run(context.Background())

	require.NoError(t, result.Err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 2, result.Expired)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "b", result.Errors[0].DeviceID)
	assert.ElementsMatch(t, []string{"a", "c"}, expirer.expired)
	assert.Equal(t, t0, result.StartTime)

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalPasses)
	assert.Equal(t, int64(0), m.FailedPasses)
	assert.Equal(t, int64(2), m.DevicesExpired)
	assert.Equal(t, int64(1), m.ExpireFailures)
}

func TestSweepJob_Run_Empty(t *testing.T) {
	job := newJob(&fakeExpirer{}, worker.SweepConfig{})

	result := job.Run(context.Background())

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Expired)
}

func TestSweepJob_BreakerOpensOnRepeatedFailures(t *testing.T) {
	expirer := &fakeExpirer{listErr: errors.New("store down")}
	job := newJob(expirer, worker.SweepConfig{BreakerFailures: 2, BreakerCooldown: time.Hour})

	for i := 0; i < 2; i++ {
		result := job.Run(context.Background())
		require.ErrorIs(t, result.Err, worker.ErrSweepFailed)
		assert.False(t, result.Skipped)
	}
	assert.Equal(t, gobreaker.StateOpen, job.BreakerState())

	result := job.Run(context.Background())
	assert.True(t, result.Skipped)

	m := job.GetMetrics()
	assert.Equal(t, int64(2), m.FailedPasses)
	assert.Equal(t, int64(1), m.SkippedPasses)
}

func TestSweepJob_AllExpirationsFailing(t *testing.T) {
	expirer := &fakeExpirer{
		ids:       []string{"a"},
		expireErr: map[string]error{"a": entitlement.ErrStoreUnavailable},
	}
	job := newJob(expirer, worker.SweepConfig{})

	result := job.Run(context.Background())

	assert.ErrorIs(t, result.Err, worker.ErrSweepFailed)
	assert.Equal(t, 1, result.Failed)
}

func TestSweepJob_RecoversFromPanic(t *testing.T) {
	expirer := &fakeExpirer{ids: []string{"a"}, panicOn: "a"}
	job := newJob(expirer, worker.SweepConfig{Concurrency: 1})

	var result *worker.SweepResult
	require.NotPanics(t, func() {
		result = job.Run(context.Background())
	})

	assert.ErrorIs(t, result.Err, worker.ErrSweepFailed)
	assert.Equal(t, int64(1), job.GetMetrics().Panics)
}

func TestSweepJob_MetricsSnapshot(t *testing.T) {
	job := newJob(&fakeExpirer{}, worker.SweepConfig{})
	_ = job.Run(context.Background())

	snapshot := job.MetricsSnapshot()

	assert.Contains(t, snapshot, "total_passes")
	assert.Contains(t, snapshot, "devices_expired")
	assert.Contains(t, snapshot, "last_pass_at")
	assert.Contains(t, snapshot, "last_pass_duration")
	assert.Equal(t, "closed", snapshot["breaker_state"])
}

func TestSweepJob_StartStopsOnCancel(t *testing.T) {
	expirer := &fakeExpirer{ids: []string{"a"}}
	job := newJob(expirer, worker.SweepConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Start(ctx) }()

	require.Eventually(t, func() bool {
		return job.GetMetrics().TotalPasses > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepJob_WithEntitlementService(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	svc := entitlement.NewService(entitlement.ServiceConfig{
		Repo:   entitlement.NewInMemoryRepository(),
		Clock:  clk,
		Logger: zerolog.Nop(),
	})

	for _, id := range []string{"short", "long", "dev"} {
		_, err := svc.Register(ctx, id)
		require.NoError(t, err)
	}
	_, err := svc.Grant(ctx, "short", 1)
	require.NoError(t, err)
	_, err = svc.Grant(ctx, "long", 30)
	require.NoError(t, err)
	_, err = svc.Grant(ctx, "dev", 1)
	require.NoError(t, err)
	_, err = svc.SetDeveloperMode(ctx, "dev", true)
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)

	job := worker.NewSweepJob(worker.SweepJobConfig{
		Logger:  zerolog.Nop(),
		Expirer: svc,
		Clock:   clk,
	})
	result := job.Run(ctx)

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Expired)

	d, err := svc.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, d.Subscription.Active)

	d, err = svc.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, d.Subscription.Active)

	d, err = svc.Get(ctx, "dev")
	require.NoError(t, err)
	assert.True(t, d.Subscription.Active)
	assert.True(t, d.DeveloperMode)
}
