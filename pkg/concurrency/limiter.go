// Package concurrency provides the concurrency primitives shared by the
// engine: a semaphore limiter that bounds in-flight remote requests inside a
// shard, and a circuit breaker that sheds load when the remote service is
// failing hard.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of limiter activity. PeakConcurrent
// records the highest number of simultaneously held slots, which is how
// tests assert that fan-out actually happened (or stayed bounded).
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a context-aware counting semaphore with activity metrics.
type Limiter struct {
	sem    chan struct{}
	active int64

	totalAcquired   int64
	totalReleased   int64
	peakConcurrent  int64
	totalWaitTimeNs int64
}

// NewLimiter creates a limiter permitting up to maxConcurrent simultaneous
// holders. Values below 1 collapse to 1.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: make(chan struct{}, maxConcurrent)}
}

// Acquire obtains a slot, blocking until one is free or the context is
// done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.totalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.totalAcquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.totalReleased, 1)
	default:
	}
}

// CurrentActive returns the number of slots currently held.
func (l *Limiter) CurrentActive() int64 {
	return atomic.LoadInt64(&l.active)
}

// Snapshot returns a copy of the current metrics.
func (l *Limiter) Snapshot() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.totalAcquired),
		TotalReleased:   atomic.LoadInt64(&l.totalReleased),
		PeakConcurrent:  atomic.LoadInt64(&l.peakConcurrent),
		TotalWaitTimeNs: atomic.LoadInt64(&l.totalWaitTimeNs),
	}
}

// AverageWaitTime reports the mean time spent waiting for a slot.
func (l *Limiter) AverageWaitTime() time.Duration {
	m := l.Snapshot()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

// updatePeak raises the recorded peak if current exceeds it.
func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peakConcurrent)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.peakConcurrent, peak, current) {
			return
		}
	}
}
