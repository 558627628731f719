package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gxo-labs/converge/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHelper() (*Helper, *[]time.Duration) {
	h := NewHelper(logger.NewDiscardLogger())
	var waits []time.Duration
	h.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return h, &waits
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	h, waits := newTestHelper()
	calls := 0
	err := h.Do(context.Background(), Config{Attempts: 3, Delay: time.Second}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *waits)
}

func TestDo_ReturnsLastError(t *testing.T) {
	h, _ := newTestHelper()
	calls := 0
	err := h.Do(context.Background(), Config{Attempts: 2}, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 2, calls)
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	h, _ := newTestHelper()
	permanent := errors.New("auth failed")
	calls := 0
	err := h.Do(context.Background(), Config{
		Attempts:    5,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffIsCapped(t *testing.T) {
	h, waits := newTestHelper()
	_ = h.Do(context.Background(), Config{
		Attempts:      4,
		Delay:         time.Second,
		BackoffFactor: 3,
		MaxDelay:      5 * time.Second,
	}, func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}, *waits)
}

func TestDo_CancelledContext(t *testing.T) {
	h, _ := newTestHelper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Do(ctx, Config{Attempts: 3}, func(context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
