package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps every delay, including one taken from Retry-After.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter randomises each delay by ±Jitter (0.2 = ±20%). 0 disables it.
	Jitter float64

	// RetryableStatuses lists the HTTP statuses that are retried.
	RetryableStatuses []int
}

// DefaultRetryConfig returns the default retry configuration: 6 attempts,
// 1s, 2s, 4s, 8s, 16s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       6,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            0,
		RetryableStatuses: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (c RetryConfig) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %g)", c.BackoffMultiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %g)", c.Jitter)
	}
	return nil
}

// Backoff returns the delay before retry n (n >= 1):
// InitialBackoff × BackoffMultiplier^(n-1), capped at MaxBackoff.
func (c RetryConfig) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(n-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		d *= 1 - c.Jitter + rand.Float64()*2*c.Jitter
	}
	return time.Duration(d)
}

func (c RetryConfig) isRetryable(status int) bool {
	for _, s := range c.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// classify maps an HTTP status to an outcome class.
func (c RetryConfig) classify(status int) OutcomeClass {
	switch {
	case status == http.StatusOK:
		return OutcomeSuccess
	case status == http.StatusUnauthorized:
		return OutcomeAuth
	case c.isRetryable(status):
		return OutcomeRetryable
	default:
		return OutcomeTerminal
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
