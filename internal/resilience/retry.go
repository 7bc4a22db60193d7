package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WithRetry runs fn up to maxRetries+1 times, waiting baseDelay·2^(attempt-1)
// before each retry. Every failed attempt is recorded on tracker under op;
// the first success records a success and returns nil.
//
// The wait honours ctx — cancellation aborts the remaining attempts and
// returns ctx.Err().
func WithRetry(ctx context.Context, tracker *Tracker, op string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = fn()
		if lastErr == nil {
			if tracker != nil {
				tracker.RecordSuccess(op)
			}
			return nil
		}
		if tracker != nil {
			tracker.RecordFailure(op, lastErr)
		}
		slog.Debug("retryable operation failed",
			"operation", op, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// WithFallback runs primary and, on any error (including [ErrCircuitOpen]),
// records the failure under op and runs fallback instead. The primary's error
// is never surfaced when the fallback succeeds.
func WithFallback(tracker *Tracker, op string, primary, fallback func() error) error {
	err := primary()
	if err == nil {
		if tracker != nil {
			tracker.RecordSuccess(op)
		}
		return nil
	}
	if tracker != nil {
		tracker.RecordFailure(op, err)
	}
	slog.Debug("primary failed, running fallback", "operation", op, "error", err)
	return fallback()
}
