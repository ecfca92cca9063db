package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/camfinder/camfinder/internal/clock"
	"github.com/camfinder/camfinder/internal/resilience"
)

const meterName = "github.com/camfinder/camfinder/internal/worker"

// ErrSweepFailed is recorded by the breaker when a pass could not do its work.
var ErrSweepFailed = errors.New("sweep failed")

// Expirer is the store-facing side of the sweep.
type Expirer interface {
	// ListExpired returns the IDs of devices whose stored subscription expired at now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// Expire clears one device's subscription if it is still expired.
	Expire(ctx context.Context, id string) (bool, error)
}

// SweepJob transitions expired subscriptions to inactive.
type SweepJob struct {
	config  SweepConfig
	logger  zerolog.Logger
	expirer Expirer
	clock   clock.Clock
	breaker *gobreaker.CircuitBreaker[*SweepResult]

	// running serialises passes; a trigger during a pass is dropped.
	running sync.Mutex

	metrics     *SweepMetrics
	instruments *sweepInstruments
}

// SweepMetrics tracks sweep job statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalPasses    int64
	FailedPasses   int64
	SkippedPasses  int64
	DevicesExpired int64
	ExpireFailures int64
	Panics         int64

	// Timings
	LastPassAt       time.Time
	LastPassDuration time.Duration
	TotalDuration    time.Duration
}

// SweepJobConfig holds configuration for creating a SweepJob.
type SweepJobConfig struct {
	Config  SweepConfig
	Logger  zerolog.Logger
	Expirer Expirer
	Clock   clock.Clock
}

type sweepInstruments struct {
	passes   metric.Int64Counter
	expired  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewSweepJob creates a new sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	config := cfg.Config.withDefaults()

	j := &SweepJob{
		config:  config,
		logger:  cfg.Logger.With().Str("component", "sweeper").Logger(),
		expirer: cfg.Expirer,
		clock:   cfg.Clock,
		metrics: &SweepMetrics{},
	}
	if j.clock == nil {
		j.clock = clock.System{}
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig("expiry-sweep")
	breakerCfg.Timeout = config.BreakerCooldown
	breakerCfg.ReadyToTrip = resilience.ConsecutiveFailures(config.BreakerFailures)
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		j.logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("sweep circuit breaker state changed")
	}
	j.breaker = resilience.NewCircuitBreaker[*SweepResult](breakerCfg)

	instruments, err := newSweepInstruments()
	if err != nil {
		j.logger.Warn().Err(err).Msg("sweep metrics disabled")
	}
	j.instruments = instruments

	return j
}

func newSweepInstruments() (*sweepInstruments, error) {
	meter := otel.Meter(meterName)

	passes, err := meter.Int64Counter(
		"entitlement.sweep.passes",
		metric.WithDescription("Number of expiry sweep passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	expired, err := meter.Int64Counter(
		"entitlement.sweep.expired",
		metric.WithDescription("Number of subscriptions transitioned to inactive"),
		metric.WithUnit("{device}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"entitlement.sweep.failures",
		metric.WithDescription("Number of devices the sweep failed to expire"),
		metric.WithUnit("{device}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"entitlement.sweep.duration",
		metric.WithDescription("Duration of expiry sweep passes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &sweepInstruments{passes: passes, expired: expired, failures: failures, duration: duration}, nil
}

// SweepResult contains the result of one sweep pass.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Scanned is the number of devices the store reported as expired.
	Scanned int

	// Expired is the number of devices actually transitioned.
	Expired int

	// Unchanged counts devices that were re-granted or removed before the write.
	Unchanged int

	Failed int
	Errors []SweepError

	// Skipped is set when the breaker was open or another pass was running.
	Skipped bool

	// Err is the pass-level failure, if any.
	Err error
}

// SweepError represents a failure to expire one device.
type SweepError struct {
	DeviceID string
	Error    string
}

// Run executes one sweep pass. It never panics and never returns an error;
// failures are reported in the result and logged.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	if !j.running.TryLock() {
		j.logger.Debug().Msg("sweep already running, skipping")
		return j.skipped(nil)
	}
	defer j.running.Unlock()

	result, err := j.breaker.Execute(func() (res *SweepResult, err error) {
		defer func() {
			if p := recover(); p != nil {
				j.recordPanic(p)
				res = &SweepResult{Err: fmt.Errorf("%w: panic: %v", ErrSweepFailed, p)}
				err = res.Err
			}
		}()

		res = j.sweep(ctx)
		return res, res.Err
	})

	if resilience.IsOpen(err) {
		j.logger.Warn().Msg("sweep circuit breaker open, skipping pass")
		return j.skipped(err)
	}
	if result == nil {
		result = &SweepResult{Err: err}
	}

	j.updateMetrics(result)
	j.record(ctx, result)

	event := j.logger.Info()
	if result.Err != nil {
		event = j.logger.Error().Err(result.Err)
	}
	event.
		Dur("duration", result.Duration).
		Int("scanned", result.Scanned).
		Int("expired", result.Expired).
		Int("unchanged", result.Unchanged).
		Int("failed", result.Failed).
		Msg("expiry sweep completed")

	return result
}

func (j *SweepJob) skipped(err error) *SweepResult {
	j.metrics.mu.Lock()
	j.metrics.SkippedPasses++
	j.metrics.mu.Unlock()

	now := j.clock.Now()
	return &SweepResult{StartTime: now, EndTime: now, Skipped: true, Err: err}
}

func (j *SweepJob) sweep(ctx context.Context) *SweepResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	now := j.clock.Now()
	startTime := time.Now()
	result := &SweepResult{StartTime: now}

	ids, err := j.expirer.ListExpired(ctx, now)
	if err != nil {
		result.Err = fmt.Errorf("%w: list expired: %w", ErrSweepFailed, err)
		j.finish(result, startTime)
		return result
	}
	result.Scanned = len(ids)

	if len(ids) > 0 {
		j.expireAll(ctx, ids, result)
	}

	if result.Failed > 0 && result.Failed == result.Scanned {
		result.Err = fmt.Errorf("%w: all %d expirations failed", ErrSweepFailed, result.Failed)
	}

	j.finish(result, startTime)
	return result
}

func (j *SweepJob) finish(result *SweepResult, startTime time.Time) {
	result.Duration = time.Since(startTime)
	result.EndTime = result.StartTime.Add(result.Duration)
}

type expireResult struct {
	deviceID string
	expired  bool
	err      error
}

func (j *SweepJob) expireAll(ctx context.Context, ids []string, result *SweepResult) {
	idsChan := make(chan string, len(ids))
	resultsChan := make(chan expireResult, len(ids))

	workers := j.config.Concurrency
	if workers > len(ids) {
		workers = len(ids)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.expireWorker(ctx, idsChan, resultsChan)
		}()
	}

	for _, id := range ids {
		idsChan <- id
	}
	close(idsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for r := range resultsChan {
		switch {
		case r.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, SweepError{DeviceID: r.deviceID, Error: r.err.Error()})
			j.logger.Warn().Err(r.err).Str("device_id", r.deviceID).Msg("failed to expire subscription")
		case r.expired:
			result.Expired++
		default:
			result.Unchanged++
		}
	}
}

func (j *SweepJob) expireWorker(ctx context.Context, ids <-chan string, results chan<- expireResult) {
	for id := range ids {
		select {
		case <-ctx.Done():
			results <- expireResult{deviceID: id, err: ctx.Err()}
		default:
			results <- j.expireOne(ctx, id)
		}
	}
}

func (j *SweepJob) expireOne(ctx context.Context, id string) (r expireResult) {
	r.deviceID = id
	defer func() {
		if p := recover(); p != nil {
			j.recordPanic(p)
			r.err = fmt.Errorf("panic: %v", p)
		}
	}()

	r.expired, r.err = j.expirer.Expire(ctx, id)
	return r
}

// Start runs a pass every Interval until ctx is done.
func (j *SweepJob) Start(ctx context.Context) error {
	j.logger.Info().
		Dur("interval", j.config.Interval).
		Int("concurrency", j.config.Concurrency).
		Msg("starting expiry sweeper")

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

func (j *SweepJob) recordPanic(p any) {
	j.metrics.mu.Lock()
	j.metrics.Panics++
	j.metrics.mu.Unlock()

	j.logger.Error().Interface("panic", p).Msg("sweep pass panicked")
}

func (j *SweepJob) record(ctx context.Context, result *SweepResult) {
	if j.instruments == nil {
		return
	}
	// Record on a background context so a cancelled pass still counts.
	ctx = context.WithoutCancel(ctx)

	status := "ok"
	if result.Err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))

	j.instruments.passes.Add(ctx, 1, attrs)
	j.instruments.expired.Add(ctx, int64(result.Expired))
	j.instruments.failures.Add(ctx, int64(result.Failed))
	j.instruments.duration.Record(ctx, result.Duration.Seconds(), attrs)
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalPasses++
	if result.Err != nil {
		j.metrics.FailedPasses++
	}
	j.metrics.DevicesExpired += int64(result.Expired)
	j.metrics.ExpireFailures += int64(result.Failed)
	j.metrics.LastPassAt = result.EndTime
	j.metrics.LastPassDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalPasses:      j.metrics.TotalPasses,
		FailedPasses:     j.metrics.FailedPasses,
		SkippedPasses:    j.metrics.SkippedPasses,
		DevicesExpired:   j.metrics.DevicesExpired,
		ExpireFailures:   j.metrics.ExpireFailures,
		Panics:           j.metrics.Panics,
		LastPassAt:       j.metrics.LastPassAt,
		LastPassDuration: j.metrics.LastPassDuration,
		TotalDuration:    j.metrics.TotalDuration,
	}
}

// BreakerState returns the sweep circuit breaker state.
func (j *SweepJob) BreakerState() gobreaker.State {
	return j.breaker.State()
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_passes":       m.TotalPasses,
		"failed_passes":      m.FailedPasses,
		"skipped_passes":     m.SkippedPasses,
		"devices_expired":    m.DevicesExpired,
		"expire_failures":    m.ExpireFailures,
		"panics":             m.Panics,
		"last_pass_at":       m.LastPassAt,
		"last_pass_duration": m.LastPassDuration.String(),
		"total_duration":     m.TotalDuration.String(),
		"breaker_state":      j.BreakerState().String(),
	}
}
