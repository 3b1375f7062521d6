package concurrency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wehubfusion/Arachne/pkg/concurrency"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	const limit = 3
	const workers = 20

	l := concurrency.NewLimiter(limit)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Expected acquire to succeed: %v", err)
				return
			}
			defer l.Release()

			if active := l.CurrentActive(); active > limit {
				t.Errorf("Expected at most %d active, observed %d", limit, active)
			}
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()

	m := l.Snapshot()
	if m.TotalAcquired != workers {
		t.Errorf("Expected %d acquisitions, got %d", workers, m.TotalAcquired)
	}
	if m.TotalReleased != workers {
		t.Errorf("Expected %d releases, got %d", workers, m.TotalReleased)
	}
	if m.PeakConcurrent > limit {
		t.Errorf("Expected peak at most %d, got %d", limit, m.PeakConcurrent)
	}
	if m.PeakConcurrent < 1 {
		t.Errorf("Expected peak of at least 1, got %d", m.PeakConcurrent)
	}
	if l.CurrentActive() != 0 {
		t.Errorf("Expected no active holders after completion, got %d", l.CurrentActive())
	}
}

func TestLimiterAcquireHonorsContext(t *testing.T) {
	l := concurrency.NewLimiter(1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Expected first acquire to succeed: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(cancelled)
	if err == nil {
		l.Release()
		t.Fatal("Expected acquire to fail once the context expires")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}

	l.Release()
}

func TestLimiterOverReleaseIsNoOp(t *testing.T) {
	l := concurrency.NewLimiter(2)

	l.Release()
	l.Release()

	if l.CurrentActive() != 0 {
		t.Errorf("Expected zero active after over-release, got %d", l.CurrentActive())
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Expected limiter to still work: %v", err)
	}
	l.Release()
}

func TestLimiterDefaultsToOne(t *testing.T) {
	l := concurrency.NewLimiter(0)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Expected acquire to succeed: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked); err == nil {
		t.Error("Expected second acquire to block on a size-1 limiter")
		l.Release()
	}
	l.Release()
}

func TestLimiterAverageWaitTime(t *testing.T) {
	l := concurrency.NewLimiter(1)
	if l.AverageWaitTime() != 0 {
		t.Error("Expected zero average wait before any acquisition")
	}

	_ = l.Acquire(context.Background())
	l.Release()

	if l.AverageWaitTime() < 0 {
		t.Error("Expected non-negative average wait")
	}
}
