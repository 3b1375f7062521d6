package retry_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wehubfusion/Arachne/pkg/retry"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := retry.Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	cause := errors.New("still broken")
	calls := 0
	err := retry.Policy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 calls, got %d", calls)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the last error to be wrapped")
	}
	if !strings.Contains(err.Error(), "all 3 attempts failed") {
		t.Errorf("Expected attempt count in message, got %q", err.Error())
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Policy{MaxAttempts: 3}.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("never retried")
	})
	if err == nil {
		t.Fatal("Expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no calls on a cancelled context, got %d", calls)
	}
}

func TestDoCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- retry.Policy{MaxAttempts: 3, Delay: 10 * time.Second}.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	// Let the first attempt fail, then cancel during the long delay.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Do to return promptly after cancellation")
	}

	if calls != 1 {
		t.Errorf("Expected exactly 1 call before cancellation, got %d", calls)
	}
	if time.Since(start) >= 10*time.Second {
		t.Error("Expected the delay to be cut short")
	}
}

func TestDoDefaultsInvalidPolicy(t *testing.T) {
	calls := 0
	err := retry.Policy{MaxAttempts: 0}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != retry.Default.MaxAttempts {
		t.Errorf("Expected %d calls from defaulted policy, got %d", retry.Default.MaxAttempts, calls)
	}
}
