package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryer() *Retryer {
	return NewRetryer(3, 10*time.Millisecond, 100*time.Millisecond, 0.4, nil)
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	r := testRetryer()
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerRetriesTransient(t *testing.T) {
	r := testRetryer()
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return MarkTransient(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerExhaustsBudget(t *testing.T) {
	r := testRetryer()
	calls := 0
	boom := errors.New("still down")

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return MarkTransient(boom)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, boom, "exhaustion should preserve the last error")
}

func TestRetryerStopsOnPermanent(t *testing.T) {
	r := testRetryer()
	calls := 0

	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return MarkPermanent(errors.New("unauthorized"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetryerHonorsContextCancellation(t *testing.T) {
	r := testRetryer()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := r.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return MarkTransient(errors.New("flaky"))
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "cancellation during backoff must stop the loop")
}

func TestRetryerDelayBounds(t *testing.T) {
	r := testRetryer()

	// Attempt 0: base=10ms, jittered up to x1.4, capped at 100ms.
	for i := 0; i < 100; i++ {
		d := r.delay(0)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond, "delay below base")
		assert.LessOrEqual(t, d, 14*time.Millisecond, "delay above jitter ceiling")
	}

	// Attempt 4: 10ms * 2^4 = 160ms, always capped to max.
	for i := 0; i < 100; i++ {
		assert.Equal(t, 100*time.Millisecond, r.delay(4))
	}
}

func TestRetryerDelayNoJitter(t *testing.T) {
	r := NewRetryer(3, 10*time.Millisecond, time.Second, 0, nil)

	assert.Equal(t, 10*time.Millisecond, r.delay(0))
	assert.Equal(t, 20*time.Millisecond, r.delay(1))
	assert.Equal(t, 40*time.Millisecond, r.delay(2))
}

func TestIsTransientClassification(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(MarkTransient(errors.New("x"))))
	assert.False(t, IsTransient(MarkPermanent(errors.New("x"))))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrCircuitOpen))
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.False(t, IsTransient(errors.New("invalid payload")))

	// Marks survive wrapping.
	wrapped := fmt.Errorf("outer: %w", MarkTransient(errors.New("inner")))
	assert.True(t, IsTransient(wrapped))
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(429))
	assert.True(t, RetryableStatus(408))
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(502))
	assert.True(t, RetryableStatus(503))
	assert.False(t, RetryableStatus(200))
	assert.False(t, RetryableStatus(400))
	assert.False(t, RetryableStatus(401))
	assert.False(t, RetryableStatus(403))
	assert.False(t, RetryableStatus(404))
}
