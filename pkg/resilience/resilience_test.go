// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/jllopis/mathqa/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(int) error {
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

func TestRetryReturnsValue(t *testing.T) {
	got, err := Retry(context.Background(), fastRetry(), func(attempt int) ([]float32, error) {
		if attempt == 1 {
			return nil, errors.New("flaky")
		}
		return []float32{1, 2}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected vector of 2, got %v", got)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(int) error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(int) error {
		attempts++
		return kerrors.New(kerrors.CodeEmbedding, "bad request", nil).WithRecoverable(false)
	})

	if !kerrors.HasCode(err, kerrors.CodeEmbedding) {
		t.Errorf("expected embedding error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
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
	err := config.Do(ctx, func(int) error {
		attempts++
		return errors.New("transient error")
	})

	if !kerrors.HasCode(err, kerrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestBackoffCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	if d := Backoff(1, rc); d != time.Second {
		t.Errorf("expected first backoff 1s, got %v", d)
	}
	if d := Backoff(3, rc); d != 2*time.Second {
		t.Errorf("expected capped backoff 2s, got %v", d)
	}
}

func TestIsRecoverable(t *testing.T) {
	if IsRecoverable(nil) {
		t.Error("nil error must not be recoverable")
	}
	if IsRecoverable(context.Canceled) {
		t.Error("context.Canceled must not be recoverable")
	}
	if !IsRecoverable(errors.New("io timeout")) {
		t.Error("generic errors are recoverable")
	}
	if !IsRecoverable(kerrors.New(kerrors.CodeTimeout, "slow", nil).WithRecoverable(true)) {
		t.Error("typed recoverable error must be recoverable")
	}
}

func TestWithTimeoutExceeded(t *testing.T) {
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !kerrors.HasCode(err, kerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !IsRecoverable(err) {
		t.Error("timeouts must be recoverable")
	}
}

func TestWithTimeoutSuccess(t *testing.T) {
	got, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q, %v", got, err)
	}
}

func TestWithTimeoutZeroDuration(t *testing.T) {
	called := false
	_, err := WithTimeout(context.Background(), 0, func(context.Context) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	if err != nil || !called {
		t.Fatalf("expected direct call, err=%v called=%v", err, called)
	}
}
