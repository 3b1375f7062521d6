// Package retry provides the fixed-attempt retry policy applied to
// transient remote-call failures. The policy is independent of the call it
// guards, so it is unit-testable without network I/O.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy retries an operation a fixed number of times with a fixed delay
// between attempts. The zero value is not useful; use Default or construct
// explicitly.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 fall back to 3.
	MaxAttempts int

	// Delay is the fixed wait between attempts. Negative values fall back
	// to one second; zero retries immediately.
	Delay time.Duration
}

// Default is the house policy: 3 attempts total, 1s between attempts.
var Default = Policy{MaxAttempts: 3, Delay: time.Second}

// Do runs op until it succeeds, the attempts are exhausted, or the context
// is cancelled. The wait between attempts honors the context. On
// exhaustion the last error is returned wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = Default.MaxAttempts
	}
	delay := p.Delay
	if delay < 0 {
		delay = Default.Delay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
