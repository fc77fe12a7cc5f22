// Package gateway 是调用外部模型的唯一出口
//
// 所有转写、整理、摘要请求都经过 Gateway：共享限流器控制请求速率，
// 临时性错误按指数退避重试，用量累计到运行级的 UsageCounter。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Provider 外部模型
type Provider interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Payload 调用输入，转写传音频路径，整理和摘要传文本
type Payload struct {
	Text         string
	AudioPath    string
	AudioSeconds float64
}

// CallResult 调用结果，Attempts 在失败时同样有效
type CallResult struct {
	Text     string
	Attempts int
	Usage    llm.Usage
}

// Options 网关参数
type Options struct {
	Model   string
	Policy  utils.RetryPolicy
	Prompts PromptSet
	// Limiter 可在多次运行间共享，nil 表示不限流
	Limiter *rate.Limiter
	// Usage 运行级用量累计，nil 时自动创建
	Usage *UsageCounter
	// Sleep 替换退避等待，用于测试
	Sleep utils.SleepFunc
}

// Gateway 带重试和限流的模型调用入口
type Gateway struct {
	provider Provider
	model    string
	prompts  PromptSet
	limiter  *rate.Limiter
	usage    *UsageCounter
	retry    *utils.ErrorHandler
}

// New 创建网关
func New(provider Provider, opts Options) *Gateway {
	if opts.Policy.MaxAttempts < 1 {
		opts.Policy = utils.DefaultRetryPolicy()
	}
	if opts.Prompts == nil {
		opts.Prompts = DefaultPrompts()
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if opts.Usage == nil {
		opts.Usage = NewUsageCounter(opts.Model)
	}

	retry := utils.NewErrorHandler(opts.Policy, IsRetryable)
	if opts.Sleep != nil {
		retry.Sleep = opts.Sleep
	}

	return &Gateway{
		provider: provider,
		model:    opts.Model,
		prompts:  opts.Prompts,
		limiter:  opts.Limiter,
		usage:    opts.Usage,
		retry:    retry,
	}
}

// NewLimiter 每 window 最多 requests 个请求的令牌桶
func NewLimiter(requests int, window time.Duration) *rate.Limiter {
	if requests <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(requests)/window.Seconds()), requests)
}

// Usage 返回运行级用量累计器
func (g *Gateway) Usage() *UsageCounter {
	return g.usage
}

// ErrorStats 返回各调用类型的错误统计
func (g *Gateway) ErrorStats() map[string]map[string]int {
	return g.retry.GetErrorStats()
}

// Call 发起一次调用，临时性错误自动重试
//
// 返回的错误已分类：重试耗尽为 TransientError，其余为 AuthError、
// InvalidRequestError、QuotaExceededError，运行被取消时为 CancelledError。
func (g *Gateway) Call(ctx context.Context, op Operation, payload Payload) (CallResult, error) {
	if !op.Valid() {
		return CallResult{}, models.NewInvalidInputError("未知的调用类型: %s", op)
	}

	req := llm.Request{
		Model:     g.model,
		Prompt:    g.prompts[op],
		Text:      payload.Text,
		AudioPath: payload.AudioPath,
	}

	var resp *llm.Response
	attempts, err := g.retry.Retry(ctx, op.String(), func(attempt int) error {
		// 等待超出 ctx 截止时间时 Wait 会提前返回，按取消处理
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("等待限流: %v: %w", err, context.DeadlineExceeded)
		}
		r, err := g.provider.Generate(ctx, req)
		if err != nil {
			utils.Debug("%s 第 %d 次调用失败: %v", op, attempt, err)
			return err
		}
		resp = r
		return nil
	})

	if err != nil {
		g.usage.record(op, attempts, nil, 0)
		return CallResult{Attempts: attempts}, classify(op, err)
	}

	g.usage.record(op, attempts, &resp.Usage, payload.AudioSeconds)
	return CallResult{Text: resp.Text, Attempts: attempts, Usage: resp.Usage}, nil
}

// TranscribeSegment 转写一个片段，返回文本和尝试次数
func (g *Gateway) TranscribeSegment(ctx context.Context, unit *models.SegmentUnit) (string, int, error) {
	res, err := g.Call(ctx, OpTranscribe, Payload{
		AudioPath:    unit.Path,
		AudioSeconds: unit.Window.Duration(),
	})
	return res.Text, res.Attempts, err
}

// Format 整理转写文本
func (g *Gateway) Format(ctx context.Context, text string) (string, error) {
	res, err := g.Call(ctx, OpFormat, Payload{Text: text})
	return res.Text, err
}

// Summarize 生成摘要
func (g *Gateway) Summarize(ctx context.Context, text string) (string, error) {
	res, err := g.Call(ctx, OpSummarize, Payload{Text: text})
	return res.Text, err
}

// classify 把重试后的最终错误转为分类错误
func classify(op Operation, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		if !errors.As(err, &netErr) {
			return models.NewCancelledError(err)
		}
	}

	var exhausted *utils.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return models.NewTransientError(
			fmt.Sprintf("%s 调用重试 %d 次后仍然失败", op, exhausted.Attempts), exhausted.Last)
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case isAuthFailure(apiErr):
			return models.NewAuthError(fmt.Sprintf("%s 调用认证失败", op), err)
		case isQuotaExhausted(apiErr):
			return models.NewQuotaExceededError(fmt.Sprintf("%s 调用配额已用尽", op), err)
		case isTransientStatus(apiErr.StatusCode):
			return models.NewTransientError(fmt.Sprintf("%s 调用失败", op), err)
		}
		return models.NewInvalidRequestError(fmt.Sprintf("%s 请求被拒绝", op), err)
	}

	var blocked *llm.BlockedError
	if errors.As(err, &blocked) {
		return models.NewInvalidRequestError(fmt.Sprintf("%s 内容被拒绝", op), err)
	}

	// 其余错误（读取本地音频失败等）也必须带分类
	if IsRetryable(err) {
		return models.NewTransientError(fmt.Sprintf("%s 调用失败", op), err)
	}
	return models.NewInvalidRequestError(fmt.Sprintf("%s 调用失败", op), err)
}

// IsRetryable 判断原始错误是否为临时性错误
// 限流（非配额）、超时、5xx 和网络错误可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		if isAuthFailure(apiErr) || isQuotaExhausted(apiErr) {
			return false
		}
		return isTransientStatus(apiErr.StatusCode)
	}

	var blocked *llm.BlockedError
	if errors.As(err, &blocked) {
		return false
	}
	if errors.Is(err, llm.ErrEmptyResponse) || errors.Is(err, llm.ErrMalformedResponse) ||
		errors.Is(err, llm.ErrFileProcessing) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "timeout", "tls handshake", "broken pipe"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func isAuthFailure(e *llm.APIError) bool {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return true
	}
	// 密钥无效时 Gemini 返回 400 INVALID_ARGUMENT
	msg := strings.ToLower(e.Message)
	return e.StatusCode == http.StatusBadRequest &&
		(strings.Contains(msg, "api key not valid") || strings.Contains(msg, "api_key_invalid"))
}

// 429 既可能是速率限制也可能是账单配额耗尽，后者重试无意义
func isQuotaExhausted(e *llm.APIError) bool {
	if e.StatusCode != http.StatusTooManyRequests {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "exceeded your current quota") ||
		strings.Contains(msg, "billing") ||
		strings.Contains(msg, "perday")
}
