package transcript

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/media-transcriber/pkg/models"
)

func ok(i int, text string) models.SegmentResult {
	return models.SegmentResult{
		Index:  i,
		Window: models.SegmentWindow{Index: i, Start: float64(i) * 900, End: float64(i+1) * 900},
		Status: models.StatusSuccess,
		Text:   text,
	}
}

func failed(i int) models.SegmentResult {
	return models.SegmentResult{
		Index:  i,
		Window: models.SegmentWindow{Index: i, Start: float64(i) * 900, End: float64(i+1) * 900},
		Status: models.StatusFailed,
		Err:    models.NewTransientError("重试耗尽", errors.New("503")),
	}
}

var src = models.AudioSource{Name: "lecture", Duration: 2700}

func TestConsolidateOrderIndependent(t *testing.T) {
	results := []models.SegmentResult{ok(0, "第一段"), ok(1, "第二段"), ok(2, "第三段"), ok(3, "第四段")}
	c := NewConsolidator(false)

	want, err := c.Consolidate(src, results)
	require.NoError(t, err)
	assert.Equal(t, "第一段\n\n第二段\n\n第三段\n\n第四段", want)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.SegmentResult(nil), results...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := c.Consolidate(src, shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConsolidateFailedSegments(t *testing.T) {
	results := []models.SegmentResult{ok(0, "a"), failed(2), ok(1, "b"), failed(3)}
	c := NewConsolidator(false)

	text, err := c.Consolidate(src, results)
	assert.Empty(t, text)

	var procErr *models.ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, []int{2, 3}, procErr.FailedIndices())
	assert.Contains(t, err.Error(), "#2 [00:30:00-00:45:00]")
	assert.Equal(t, models.KindProcessing, models.KindOf(err))

	// 重复合并得到相同的错误
	_, again := c.Consolidate(src, results)
	assert.Equal(t, err.Error(), again.Error())
}

func TestConsolidateBestEffort(t *testing.T) {
	c := NewConsolidator(true)
	text, err := c.Consolidate(src, []models.SegmentResult{ok(0, "开头"), failed(1), ok(2, "结尾")})

	require.NoError(t, err)
	assert.Equal(t, "开头\n\n[转写失败: 00:15:00 - 00:30:00]\n\n结尾", text)
}

func TestConsolidateSkipsEmptyText(t *testing.T) {
	c := NewConsolidator(false)
	text, err := c.Consolidate(src, []models.SegmentResult{ok(0, "a"), ok(1, "  \n"), ok(2, "c")})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nc", text)
}

func TestConsolidateCustomDelimiter(t *testing.T) {
	c := &Consolidator{Delimiter: "\n"}
	text, err := c.Consolidate(src, []models.SegmentResult{ok(1, "b"), ok(0, "a")})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", text)
}

func TestConsolidateRejectsBrokenIndices(t *testing.T) {
	c := NewConsolidator(true)

	tests := map[string][]models.SegmentResult{
		"gap":       {ok(0, "a"), ok(2, "c")},
		"duplicate": {ok(0, "a"), ok(0, "a")},
		"offset":    {ok(1, "b"), ok(2, "c")},
		"empty":     nil,
	}
	for name, results := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Consolidate(src, results)
			var procErr *models.ProcessingError
			assert.ErrorAs(t, err, &procErr)
		})
	}
}

func TestResultsInOrder(t *testing.T) {
	ordered := ResultsInOrder(map[int]models.SegmentResult{2: ok(2, "c"), 0: ok(0, "a"), 1: ok(1, "b")})
	require.Len(t, ordered, 3)
	for i, r := range ordered {
		assert.Equal(t, i, r.Index)
	}
}

type mockTextGateway struct {
	mock.Mock
}

func (m *mockTextGateway) Format(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func (m *mockTextGateway) Summarize(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

func TestRunAll(t *testing.T) {
	gw := new(mockTextGateway)
	gw.On("Format", mock.Anything, "raw").Return("整理后", nil)
	gw.On("Summarize", mock.Anything, "raw").Return("摘要", nil)

	res := NewPostProcessor(gw).Run(context.Background(), "raw", ModeAll)
	require.NoError(t, res.Err())
	assert.Equal(t, "整理后", res.Formatted)
	assert.Equal(t, "摘要", res.Summary)
	gw.AssertExpectations(t)
}

func TestRunFailuresAreIndependent(t *testing.T) {
	gw := new(mockTextGateway)
	gw.On("Format", mock.Anything, "raw").Return("", models.NewInvalidRequestError("format 请求被拒绝", errors.New("400")))
	gw.On("Summarize", mock.Anything, "raw").Return("摘要", nil)

	res := NewPostProcessor(gw).Run(context.Background(), "raw", ModeAll)
	assert.Equal(t, "摘要", res.Summary)
	assert.True(t, models.IsInvalidRequestError(res.FormatErr))
	assert.NoError(t, res.SummarizeErr)
	assert.Equal(t, models.StageFormat, models.StageOf(res.Err()))
}

func TestRunConcurrently(t *testing.T) {
	var inFlight, peak int32
	slow := func(mock.Arguments) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}
	gw := new(mockTextGateway)
	gw.On("Format", mock.Anything, "raw").Run(slow).Return("f", nil)
	gw.On("Summarize", mock.Anything, "raw").Run(slow).Return("s", nil)

	NewPostProcessor(gw).Run(context.Background(), "raw", ModeAll)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestRunSingleModes(t *testing.T) {
	gw := new(mockTextGateway)
	gw.On("Format", mock.Anything, "raw").Return("f", nil)

	res := NewPostProcessor(gw).Run(context.Background(), "raw", ModeFormatOnly)
	assert.Equal(t, "f", res.Formatted)
	assert.Empty(t, res.Summary)
	gw.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything)

	gw2 := new(mockTextGateway)
	gw2.On("Summarize", mock.Anything, "raw").Return("s", nil)
	res = NewPostProcessor(gw2).Run(context.Background(), "raw", ModeSummarizeOnly)
	assert.Equal(t, "s", res.Summary)
	gw2.AssertNotCalled(t, "Format", mock.Anything, mock.Anything)
}

func TestFormatRejectsEmpty(t *testing.T) {
	gw := new(mockTextGateway)
	_, err := NewPostProcessor(gw).Format(context.Background(), "   ")
	assert.True(t, models.IsInvalidInputError(err))
	gw.AssertNotCalled(t, "Format", mock.Anything, mock.Anything)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAll, "all": ModeAll, "format": ModeFormatOnly, "Summarize": ModeSummarizeOnly} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("translate")
	assert.Error(t, err)
}
