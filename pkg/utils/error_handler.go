package utils

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RetryPolicy 指数退避策略
// 第 n 次失败后等待 min(BaseDelay*2^(n-1), MaxDelay)
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy 5 次尝试，1 秒起，上限 64 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    64 * time.Second,
	}
}

// Delay 返回第 attempt 次尝试（从 1 开始）失败后的等待时间
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryExhaustedError 重试次数耗尽
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("操作 %s 重试 %d 次后仍然失败: %v", e.Operation, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// SleepFunc 可被取消的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep 等待 d 或直到 ctx 结束
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// ErrorHandler 处理错误和重试，可被多个协程共享
type ErrorHandler struct {
	Policy RetryPolicy
	// Retryable 判断错误是否值得重试，为 nil 时所有错误都重试
	Retryable func(error) bool
	// Sleep 退避等待，测试中可替换
	Sleep SleepFunc

	mu         sync.Mutex
	errorStats map[string]map[string]int // 操作 -> 错误信息 -> 计数
}

// NewErrorHandler 创建新的错误处理器
func NewErrorHandler(policy RetryPolicy, retryable func(error) bool) *ErrorHandler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &ErrorHandler{
		Policy:     policy,
		Retryable:  retryable,
		Sleep:      ContextSleep,
		errorStats: make(map[string]map[string]int),
	}
}

// Retry 执行 fn，失败且可重试时按策略退避后重试
// fn 收到当前尝试序号（从 1 开始）。返回实际尝试次数。
// 不可重试的错误原样返回；重试耗尽返回 *RetryExhaustedError；
// ctx 结束时返回 ctx.Err()。
func (h *ErrorHandler) Retry(ctx context.Context, operation string, fn func(attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= h.Policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}

		lastErr = err
		h.updateErrorStats(operation, err.Error())

		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if h.Retryable != nil && !h.Retryable(err) {
			return attempt, err
		}

		if attempt < h.Policy.MaxAttempts {
			delay := h.Policy.Delay(attempt)
			Warn("操作 %s 失败 (尝试 %d/%d): %v，%.1f 秒后重试", operation, attempt, h.Policy.MaxAttempts, err, delay.Seconds())
			sleep := h.Sleep
			if sleep == nil {
				sleep = ContextSleep
			}
			if err := sleep(ctx, delay); err != nil {
				return attempt, err
			}
		}
	}

	return h.Policy.MaxAttempts, &RetryExhaustedError{
		Operation: operation,
		Attempts:  h.Policy.MaxAttempts,
		Last:      lastErr,
	}
}

// 更新错误统计
func (h *ErrorHandler) updateErrorStats(operation string, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.errorStats[operation] == nil {
		h.errorStats[operation] = make(map[string]int)
	}
	h.errorStats[operation][errMsg]++
}

// GetErrorStats 获取错误统计信息的副本
func (h *ErrorHandler) GetErrorStats() map[string]map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := make(map[string]map[string]int, len(h.errorStats))
	for op, errs := range h.errorStats {
		inner := make(map[string]int, len(errs))
		for msg, n := range errs {
			inner[msg] = n
		}
		stats[op] = inner
	}
	return stats
}

// PrintErrorStats 打印错误统计信息
func (h *ErrorHandler) PrintErrorStats() {
	stats := h.GetErrorStats()
	if len(stats) == 0 {
		Debug("没有错误记录")
		return
	}

	Info("错误统计:")
	for operation, errors := range stats {
		Info("操作: %s", operation)
		for errMsg, count := range errors {
			Info("  - %s: %d次", errMsg, count)
		}
	}
}
