package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Retryer retries transient failures with exponential backoff and jitter.
// Delay at attempt n (0-indexed) is min(base · 2^n · (1 + U(0, jitter)), max).
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the upper bound of the multiplicative jitter factor,
	// in [0, 0.5).
	Jitter float64

	logger *slog.Logger
}

// NewRetryer creates a retryer with the given budget. A nil logger falls
// back to slog.Default.
func NewRetryer(maxAttempts int, baseDelay, maxDelay time.Duration, jitter float64, logger *slog.Logger) *Retryer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Jitter:      jitter,
		logger:      logger.With("component", "retry"),
	}
}

// Do runs fn until it succeeds, returns a non-transient error, the attempt
// budget is exhausted, or ctx is done. op names the operation for logs.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.InfoContext(ctx, "operation succeeded after retry",
					"operation", op, "attempt", attempt+1)
			}
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == r.MaxAttempts-1 {
			break
		}

		delay := r.delay(attempt)
		r.logger.WarnContext(ctx, "transient failure, backing off",
			"operation", op, "attempt", attempt+1, "max_attempts", r.MaxAttempts,
			"delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, r.MaxAttempts, lastErr)
}

// delay computes the backoff for a 0-indexed attempt.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.BaseDelay) * float64(uint64(1)<<uint(attempt))
	if r.Jitter > 0 {
		d *= 1 + rand.Float64()*r.Jitter
	}
	if ceil := float64(r.MaxDelay); d > ceil {
		d = ceil
	}
	return time.Duration(d)
}
