// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	berrors "github.com/jllopis/reasoningbank/pkg/errors"
)

func fastConfig() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastConfig().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	last := errors.New("always fails")
	err := fastConfig().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return last
	})

	if !errors.Is(err, last) {
		t.Errorf("expected last error to be returned, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := fastConfig().WithIsRecoverable(func(err error) bool { return false })
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("non-recoverable error")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryAlwaysIgnoresRecoverableFlag(t *testing.T) {
	attempts := 0
	be := berrors.New(berrors.CodeLLMError, "bad gateway", nil)
	err := fastConfig().WithIsRecoverable(Always).Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return be
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(200 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return errors.New("transient error")
	})

	if !berrors.HasCode(err, berrors.CodeTimeout) {
		t.Errorf("expected timeout error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestDoValue(t *testing.T) {
	attempts := 0
	result, err := DoValue(context.Background(), fastConfig(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestOnRetryHook(t *testing.T) {
	var seen []int
	config := fastConfig().WithMaxAttempts(3).WithOnRetry(func(attempt int, err error, _ time.Duration) {
		if err == nil {
			t.Errorf("expected error in OnRetry")
		}
		seen = append(seen, attempt)
	})
	_ = config.Do(context.Background(), func() error { return errors.New("fail") })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("unexpected retry attempts %v", seen)
	}
}

func TestBackoffCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := calculateBackoff(tc.n, rc); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestBankErrorRecoverable(t *testing.T) {
	be := berrors.New(berrors.CodeTimeout, "timed out", nil).WithRecoverable(true)

	attempts := 0
	err := fastConfig().Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return be
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected retry to succeed")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}

	attempts = 0
	fatal := berrors.New(berrors.CodeConfig, "bad config", nil)
	_ = fastConfig().Do(context.Background(), func() error {
		attempts++
		return fatal
	})
	if attempts != 1 {
		t.Errorf("non-recoverable BankError should not be retried, got %d attempts", attempts)
	}
}
