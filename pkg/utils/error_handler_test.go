package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 记录退避时长但不真正等待
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestHandler(maxAttempts int, retryable func(error) bool) (*ErrorHandler, *recordingSleep) {
	rec := &recordingSleep{}
	h := NewErrorHandler(RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: time.Second, MaxDelay: 64 * time.Second}, retryable)
	h.Sleep = rec.sleep
	return h, rec
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 64*time.Second, p.Delay(7))
	assert.Equal(t, 64*time.Second, p.Delay(30))
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	InitLogger(LogLevelNormal, "")
	h, rec := newTestHandler(5, nil)

	calls := 0
	attempts, err := h.Retry(context.Background(), "transcribe", func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls <= 4 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.delays)
}

func TestRetryExhausted(t *testing.T) {
	h, rec := newTestHandler(5, nil)

	calls := 0
	lastErr := errors.New("timeout")
	attempts, err := h.Retry(context.Background(), "transcribe", func(int) error {
		calls++
		return lastErr
	})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, attempts)
	assert.ErrorIs(t, err, lastErr)
	assert.Len(t, rec.delays, 4)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("401")
	h, rec := newTestHandler(5, func(err error) bool { return !errors.Is(err, fatal) })

	attempts, err := h.Retry(context.Background(), "format", func(int) error { return fatal })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.delays)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewErrorHandler(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	attempts, err := h.Retry(ctx, "summarize", func(int) error { return errors.New("500") })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestErrorStats(t *testing.T) {
	h, _ := newTestHandler(3, nil)

	h.updateErrorStats("op1", "err1")
	h.updateErrorStats("op1", "err1")
	h.updateErrorStats("op1", "err2")
	h.updateErrorStats("op2", "err3")

	stats := h.GetErrorStats()
	assert.Len(t, stats, 2)
	assert.Equal(t, 2, stats["op1"]["err1"])
	assert.Equal(t, 1, stats["op1"]["err2"])
	assert.Equal(t, 1, stats["op2"]["err3"])

	// 返回的是副本
	stats["op1"]["err1"] = 100
	assert.Equal(t, 2, h.GetErrorStats()["op1"]["err1"])

	h.PrintErrorStats()
}
