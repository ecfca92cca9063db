// Package worker runs background entitlement jobs: the periodic expiry
// sweep and on-demand sweeps triggered over Pub/Sub.
package worker

import (
	"time"
)

// SweepConfig holds configuration for the expiry sweep job.
type SweepConfig struct {
	// Interval is the time between scheduled passes.
	// Default: 10 seconds
	Interval time.Duration

	// Concurrency is the number of devices expired in parallel.
	// Default: 4
	Concurrency int

	// Timeout bounds a single pass.
	// Default: 30 seconds
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failed passes that open the breaker.
	// Default: 3
	BreakerFailures uint32

	// BreakerCooldown is how long the breaker stays open before the next probe.
	// Default: 1 minute
	BreakerCooldown time.Duration
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:        10 * time.Second,
		Concurrency:     4,
		Timeout:         30 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	}
}

// withDefaults fills zero fields from DefaultSweepConfig.
func (c SweepConfig) withDefaults() SweepConfig {
	def := DefaultSweepConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = def.BreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	return c
}
