// SPDX-License-Identifier: Apache-2.0
// Package resilience provides bounded exponential-backoff retries for calls
// to external collaborators (generation endpoint, task environment).
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the base backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, BankError.Recoverable decides and plain errors are retried.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff. Value between 0 and 1;
	// 0.1 means ±10% jitter.
	Jitter float64

	// OnRetry is called before each backoff wait with the attempt number
	// that just failed (1-based) and its error.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a new config with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Always retries every failure regardless of its cause.
func Always(err error) bool { return err != nil }

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt-1, rc)
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeTimeout, "context done during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts).
					WithContext("last_error", lastErr)
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) {
			return err
		}
	}

	return lastErr
}

// DoValue executes fn with retry logic, returning the value of the first
// successful attempt.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := rc.Do(ctx, func() error {
		v, fnErr := fn()
		if fnErr != nil {
			return fnErr
		}
		result = v
		return nil
	})
	return result, err
}

// calculateBackoff returns InitialDelay*Multiplier^n capped at MaxDelay,
// where n is the zero-based retry index.
func calculateBackoff(n int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(n)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		jitterRange := float64(delay) * rc.Jitter * 2 * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitterRange)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// isRecoverableDefault considers errors recoverable based on type.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*errors.BankError); ok {
		return be.Recoverable
	}
	return true
}
