package benchtrace

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryConfig controls the backoff schedule used when pushing reports to
// remote endpoints.
type RetryConfig struct {
	// MaxAttempts caps the total number of tries, the first one included.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 30s
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after every failed attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter randomizes each delay by the given fraction, so concurrent
	// publishers do not hammer a recovering endpoint in lockstep.
	// Must lie in [0, 1]; 0.1 means up to ±10%.
	// Default: 0.1
	Jitter float64

	// RetryIf decides whether a failed attempt is worth repeating.
	// A nil RetryIf repeats on every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the backoff schedule used by the exporters
// when the caller does not supply one.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer runs an operation under a bounded backoff schedule.
type Retryer struct {
	config RetryConfig
}

// NewRetryer builds a Retryer, replacing out-of-range fields with the
// defaults.
func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = 0.1
	}
	return &Retryer{config: config}
}

// RetryResult reports how a retried operation ended. LastErr is nil when
// some attempt succeeded.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do runs op until it succeeds, the schedule is exhausted, RetryIf
// rejects the error, or ctx is done.
func (r *Retryer) Do(ctx context.Context, op func() error) RetryResult {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return RetryResult{Attempts: attempt}
		}

		if r.config.RetryIf != nil && !r.config.RetryIf(lastErr) {
			return RetryResult{Attempts: attempt, LastErr: lastErr}
		}

		// No point sleeping when no attempt follows.
		if attempt == r.config.MaxAttempts {
			break
		}

		sleepDuration := r.addJitter(backoff)

		select {
		case <-ctx.Done():
			return RetryResult{Attempts: attempt, LastErr: ctx.Err()}
		case <-time.After(sleepDuration):
		}

		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}

	return RetryResult{Attempts: r.config.MaxAttempts, LastErr: lastErr}
}

// addJitter spreads d uniformly over [d*(1-jitter), d*(1+jitter)].
func (r *Retryer) addJitter(d time.Duration) time.Duration {
	if r.config.Jitter == 0 {
		return d
	}
	jitterRange := float64(d) * r.config.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(d) + jitter)
}

// IsRetryable reports whether err looks transient: a network timeout or
// a message naming a condition that tends to clear on its own. Context
// cancellation is never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporarily unavailable",
		"too many requests",
		"service unavailable",
		"internal server error",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
