package retry

import (
	"fmt"
	"math"
	"time"
)

// Defaults applied by DefaultPolicy and by the configuration loader when no
// retry settings are provided.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 1 * time.Second
	DefaultMultiplier      = 1.0
	DefaultMaxInterval     = 10 * time.Second
)

// Policy describes how failed operations are reattempted.
// A Policy is a value: once built it is never mutated, so a single policy can
// be shared by any number of concurrent Execute calls.
type Policy struct {
	// Enabled turns retries on. When false the operation runs exactly once
	// regardless of MaxAttempts.
	Enabled bool

	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration

	// Multiplier scales the wait after each further failed attempt.
	Multiplier float64

	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration

	onRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used when nothing is configured:
// retries disabled, 3 attempts, 1s initial wait, multiplier 1.0, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:         false,
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
	}
}

// WithOnRetry returns a copy of the policy that invokes fn after every failed
// attempt that will be retried, before the wait for the next attempt starts.
// The receiver is not modified, so a shared policy can be decorated per call
// site without synchronization.
func (p Policy) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Policy {
	p.onRetry = fn
	return p
}

// Validate reports the first invalid field. Policies built from configuration
// are validated at startup; a policy that fails validation must not be used.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialInterval < 0 {
		return fmt.Errorf("retry initial interval must not be negative, got %s", p.InitialInterval)
	}
	if p.Multiplier <= 0 {
		return fmt.Errorf("retry multiplier must be greater than 0, got %g", p.Multiplier)
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("retry max interval %s must not be below initial interval %s", p.MaxInterval, p.InitialInterval)
	}
	return nil
}

// Delay returns the wait inserted before the given attempt. Attempts are
// numbered from 1 and the first attempt never waits. For later attempts the
// result is min(InitialInterval * Multiplier^(attempt-2), MaxInterval);
// a computation that overflows clamps to MaxInterval.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.InitialInterval <= 0 {
		return 0
	}
	scaled := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-2))
	if math.IsNaN(scaled) {
		return p.MaxInterval
	}
	if scaled <= 0 {
		return 0
	}
	if scaled >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(scaled)
}
