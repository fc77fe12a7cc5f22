package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

// recordingSleep 记录退避时长但不真正等待
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testPolicy() utils.RetryPolicy {
	return utils.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 64 * time.Second}
}

func newTestGateway(p Provider, sleep *recordingSleep) *Gateway {
	return New(p, Options{
		Model:  "gemini-2.5-flash",
		Policy: testPolicy(),
		Sleep:  sleep.sleep,
	})
}

var serverError = &llm.APIError{StatusCode: 503, Status: "UNAVAILABLE", Message: "overloaded"}

func TestCallRetriesTransientThenSucceeds(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError).Times(4)
	provider.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{Text: "转写结果"}, nil).Once()

	sleep := &recordingSleep{}
	gw := newTestGateway(provider, sleep)

	res, err := gw.Call(context.Background(), OpFormat, Payload{Text: "原文"})
	require.NoError(t, err)
	assert.Equal(t, "转写结果", res.Text)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleep.delays)
	provider.AssertNumberOfCalls(t, "Generate", 5)
}

func TestCallExhaustsRetries(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError)

	sleep := &recordingSleep{}
	gw := newTestGateway(provider, sleep)

	res, err := gw.Call(context.Background(), OpSummarize, Payload{Text: "原文"})
	require.Error(t, err)
	assert.True(t, models.IsTransientError(err))
	assert.Equal(t, 5, res.Attempts)
	provider.AssertNumberOfCalls(t, "Generate", 5)
	assert.Len(t, sleep.delays, 4)

	var apiErr *llm.APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestCallStopsOnAuthFailure(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &llm.APIError{StatusCode: 401, Message: "unauthenticated"})

	sleep := &recordingSleep{}
	res, err := newTestGateway(provider, sleep).Call(context.Background(), OpFormat, Payload{Text: "x"})

	assert.True(t, models.IsAuthError(err))
	assert.True(t, models.IsFatal(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, sleep.delays)
	provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestCallCancelled(t *testing.T) {
	provider := new(mockProvider)
	ctx, cancel := context.WithCancel(context.Background())
	provider.On("Generate", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	res, err := newTestGateway(provider, &recordingSleep{}).Call(ctx, OpFormat, Payload{Text: "x"})
	assert.True(t, models.IsCancelledError(err))
	assert.Equal(t, 1, res.Attempts)
}

func TestCallRejectsUnknownOperation(t *testing.T) {
	provider := new(mockProvider)
	_, err := newTestGateway(provider, &recordingSleep{}).Call(context.Background(), Operation(9), Payload{})
	assert.True(t, models.IsInvalidInputError(err))
	provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestCallBuildsRequest(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.Model == "gemini-2.5-flash" &&
			req.AudioPath == "/tmp/segment_001.mp3" &&
			req.Prompt == DefaultPrompts()[OpTranscribe]
	})).Return(&llm.Response{Text: "你好"}, nil)

	unit := &models.SegmentUnit{
		Window: models.SegmentWindow{Index: 1, Start: 10, End: 40},
		Path:   "/tmp/segment_001.mp3",
	}
	text, attempts, err := newTestGateway(provider, &recordingSleep{}).TranscribeSegment(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "你好", text)
	assert.Equal(t, 1, attempts)
	provider.AssertExpectations(t)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      models.ErrorKind
		retryable bool
	}{
		{"rate limited", &llm.APIError{StatusCode: 429, Message: "Resource has been exhausted"}, models.KindTransient, true},
		{"quota", &llm.APIError{StatusCode: 429, Message: "You exceeded your current quota, please check your plan and billing details."}, models.KindQuotaExceeded, false},
		{"unauthorized", &llm.APIError{StatusCode: 401}, models.KindAuth, false},
		{"forbidden", &llm.APIError{StatusCode: 403}, models.KindAuth, false},
		{"bad key", &llm.APIError{StatusCode: 400, Message: "API key not valid. Please pass a valid API key."}, models.KindAuth, false},
		{"bad request", &llm.APIError{StatusCode: 400, Message: "Invalid argument"}, models.KindInvalidRequest, false},
		{"not found", &llm.APIError{StatusCode: 404, Message: "model not found"}, models.KindInvalidRequest, false},
		{"timeout status", &llm.APIError{StatusCode: 408}, models.KindTransient, true},
		{"server error", &llm.APIError{StatusCode: 500}, models.KindTransient, true},
		{"blocked", &llm.BlockedError{Reason: "SAFETY"}, models.KindInvalidRequest, false},
		{"cancelled", context.Canceled, models.KindCancelled, false},
		{"malformed body", fmt.Errorf("%w: %w", llm.ErrMalformedResponse, errors.New("unexpected end of JSON input")), models.KindTransient, true},
		{"file processing failed", fmt.Errorf("%w: files/abc", llm.ErrFileProcessing), models.KindTransient, true},
		{"missing audio", errors.New("读取音频文件失败: no such file"), models.KindInvalidRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, models.KindOf(classify(OpTranscribe, tt.err)))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestCallRetriesMalformedResponse(t *testing.T) {
	provider := new(mockProvider)
	truncated := fmt.Errorf("%w: %w", llm.ErrMalformedResponse, errors.New("unexpected end of JSON input"))
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, truncated).Once()
	provider.On("Generate", mock.Anything, mock.Anything).
		Return(&llm.Response{Text: "恢复"}, nil).Once()

	sleep := &recordingSleep{}
	res, err := newTestGateway(provider, sleep).Call(context.Background(), OpFormat, Payload{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "恢复", res.Text)
	assert.Equal(t, 2, res.Attempts)
}

func TestCallAlwaysReturnsClassifiedError(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("unexpected failure"))

	res, err := newTestGateway(provider, &recordingSleep{}).Call(context.Background(), OpFormat, Payload{Text: "x"})
	require.Error(t, err)
	assert.NotEmpty(t, models.KindOf(err))
	assert.True(t, models.IsInvalidRequestError(err))
	assert.Equal(t, 1, res.Attempts)
	provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestIsRetryableNetworkErrors(t *testing.T) {
	assert.True(t, IsRetryable(llm.ErrEmptyResponse))
	assert.True(t, IsRetryable(fmt.Errorf("发送请求失败: %w", errors.New("read: connection reset by peer"))))
	assert.False(t, IsRetryable(errors.New("读取音频失败: no such file")))
	assert.False(t, IsRetryable(nil))
}

func TestUsageAccumulates(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{
		Text:  "ok",
		Usage: llm.Usage{PromptTokens: 1000, AudioTokens: 800, OutputTokens: 100, TotalTokens: 1100},
	}, nil)

	gw := newTestGateway(provider, &recordingSleep{})
	unit := &models.SegmentUnit{Window: models.SegmentWindow{Start: 0, End: 30}, Path: "a.mp3"}
	for i := 0; i < 2; i++ {
		_, _, err := gw.TranscribeSegment(context.Background(), unit)
		require.NoError(t, err)
	}
	_, err := gw.Format(context.Background(), "text")
	require.NoError(t, err)

	summary := gw.Usage().Snapshot()
	tr := summary.ByOperation["transcribe"]
	assert.Equal(t, 2, tr.Calls)
	assert.Equal(t, 1600, tr.AudioTokens)
	assert.Equal(t, 400, tr.InputTokens)
	assert.InDelta(t, 60.0, tr.AudioSeconds, 1e-9)

	// 2 次 * (200*0.30 + 800*1.00 + 100*2.50) / 1e6
	assert.InDelta(t, 2*(200*0.30+800*1.00+100*2.50)/1e6, tr.Cost, 1e-12)
	assert.Equal(t, 3, summary.Total.Calls)
	assert.Equal(t, "gemini-2.5-flash", summary.Model)
}

func TestUsageCountsFailedCalls(t *testing.T) {
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, serverError)

	gw := newTestGateway(provider, &recordingSleep{})
	_, err := gw.Format(context.Background(), "text")
	require.Error(t, err)

	format := gw.Usage().Snapshot().ByOperation["format"]
	assert.Equal(t, 1, format.Calls)
	assert.Equal(t, 5, format.Attempts)
	assert.Zero(t, format.Cost)
}

func TestUsageWithoutModalityDetail(t *testing.T) {
	counter := NewUsageCounter("gemini-2.5-flash")
	counter.record(OpTranscribe, 1, &llm.Usage{PromptTokens: 1000, OutputTokens: 0}, 30)
	counter.record(OpSummarize, 1, &llm.Usage{PromptTokens: 1000, OutputTokens: 0}, 0)

	snap := counter.Snapshot()
	assert.Equal(t, 1000, snap.ByOperation["transcribe"].AudioTokens)
	assert.InDelta(t, 1000*1.00/1e6, snap.ByOperation["transcribe"].Cost, 1e-12)
	assert.Equal(t, 1000, snap.ByOperation["summarize"].InputTokens)
	assert.InDelta(t, 1000*0.30/1e6, snap.ByOperation["summarize"].Cost, 1e-12)
}

func TestPricingFor(t *testing.T) {
	assert.Equal(t, PriceTable["gemini-2.5-pro"], PricingFor("gemini-2.5-pro"))
	assert.Equal(t, PriceTable["gemini-2.5-pro"], PricingFor("gemini-3-pro-preview"))
	assert.Equal(t, PriceTable["gemini-2.5-flash"], PricingFor("unknown"))
}

func TestLimiterThrottles(t *testing.T) {
	limiter := NewLimiter(2, 200*time.Millisecond)
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{Text: "ok"}, nil)

	gw := New(provider, Options{Model: "m", Policy: testPolicy(), Limiter: limiter})

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := gw.Format(context.Background(), "x")
		require.NoError(t, err)
	}
	// 突发 2 个，之后每 100ms 一个
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLimiterWaitCancelled(t *testing.T) {
	limiter := NewLimiter(1, time.Hour)
	provider := new(mockProvider)
	provider.On("Generate", mock.Anything, mock.Anything).Return(&llm.Response{Text: "ok"}, nil)
	gw := New(provider, Options{Model: "m", Policy: testPolicy(), Limiter: limiter})

	_, err := gw.Format(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = gw.Format(ctx, "x")
	assert.True(t, models.IsCancelledError(err))
	provider.AssertNumberOfCalls(t, "Generate", 1)
}

func TestNewLimiterUnlimited(t *testing.T) {
	limiter := NewLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow())
	}
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summarize.txt"), []byte("  用三句话总结  \n"), 0644))

	prompts, err := LoadPrompts(dir)
	require.NoError(t, err)
	assert.Equal(t, "用三句话总结", prompts[OpSummarize])
	assert.Equal(t, DefaultPrompts()[OpTranscribe], prompts[OpTranscribe])

	prompts, err = LoadPrompts("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts(), prompts)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "transcribe", OpTranscribe.String())
	assert.Equal(t, "operation(7)", Operation(7).String())
	assert.True(t, OpTranscribe.AudioInput())
	assert.False(t, OpFormat.AudioInput())
}

func TestEstimateCost(t *testing.T) {
	counter := NewUsageCounter("gemini-2.5-flash")
	counter.record(OpTranscribe, 1, &llm.Usage{PromptTokens: 1000, AudioTokens: 1000, OutputTokens: 1000}, 30)

	assert.InDelta(t, counter.Cost(), counter.EstimateCost("gemini-2.5-flash"), 1e-12)
	assert.InDelta(t, (1000*1.25+1000*10.00)/1e6, counter.EstimateCost("gemini-2.5-pro"), 1e-12)
}
