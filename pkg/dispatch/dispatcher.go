// Package dispatch 并发提取并转写音频片段
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Transcriber 转写单个片段，返回文本和尝试次数
type Transcriber interface {
	TranscribeSegment(ctx context.Context, unit *models.SegmentUnit) (string, int, error)
}

// Options 调度参数
type Options struct {
	Sink ProgressSink
	// ExtractRetries 提取失败后额外重试的次数
	ExtractRetries int
	ExtractBackoff time.Duration
	// GracePeriod 取消后进行中的调用最多再运行多久
	GracePeriod time.Duration
	Sleep       utils.SleepFunc
}

// Dispatcher 有界并发的片段调度器
type Dispatcher struct {
	extractor   audio.Extractor
	transcriber Transcriber
	sink        ProgressSink
	grace       time.Duration
	extract     *utils.ErrorHandler
}

// New 创建调度器
func New(extractor audio.Extractor, transcriber Transcriber, opts Options) *Dispatcher {
	if opts.Sink == nil {
		opts.Sink = NopSink
	}
	if opts.ExtractRetries < 0 {
		opts.ExtractRetries = 0
	}
	if opts.ExtractBackoff <= 0 {
		opts.ExtractBackoff = 500 * time.Millisecond
	}

	extract := utils.NewErrorHandler(utils.RetryPolicy{
		MaxAttempts: opts.ExtractRetries + 1,
		BaseDelay:   opts.ExtractBackoff,
		MaxDelay:    5 * time.Second,
	}, extractRetryable)
	if opts.Sleep != nil {
		extract.Sleep = opts.Sleep
	}

	return &Dispatcher{
		extractor:   extractor,
		transcriber: transcriber,
		sink:        opts.Sink,
		grace:       opts.GracePeriod,
		extract:     extract,
	}
}

func extractRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !models.IsInvalidInputError(err)
}

// Dispatch 以最多 limit 个并发处理所有窗口
//
// 每个请求的索引都恰好对应一个结果。单个片段失败不影响其他片段；
// 认证或配额错误立即取消全部工作并作为返回错误。ctx 取消后不再启动新片段，
// 进行中的调用在宽限期内继续运行，未启动的片段记为取消失败。
func (d *Dispatcher) Dispatch(ctx context.Context, src models.AudioSource, windows []models.SegmentWindow, limit int) (map[int]models.SegmentResult, error) {
	if limit < 1 {
		return nil, models.NewInvalidInputError("并发数必须大于0: %d", limit)
	}
	results := make(map[int]models.SegmentResult, len(windows))
	if len(windows) == 0 {
		return results, nil
	}

	workers := limit
	if workers > len(windows) {
		workers = len(windows)
	}
	utils.Info("开始转写 %d 个片段，并发数 %d", len(windows), workers)

	// 调用使用独立的上下文：用户取消后宽限期结束才中断，致命错误时立即中断
	callCtx, cancelCalls := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelCalls(nil)

	var (
		graceMu    sync.Mutex
		graceTimer *time.Timer
	)
	stopAfter := context.AfterFunc(ctx, func() {
		cause := context.Cause(ctx)
		if d.grace <= 0 {
			cancelCalls(cause)
			return
		}
		utils.Warn("运行已取消，进行中的片段最多再等待 %s", d.grace)
		graceMu.Lock()
		graceTimer = time.AfterFunc(d.grace, func() { cancelCalls(cause) })
		graceMu.Unlock()
	})
	defer func() {
		stopAfter()
		graceMu.Lock()
		if graceTimer != nil {
			graceTimer.Stop()
		}
		graceMu.Unlock()
	}()

	jobs := make(chan models.SegmentWindow)
	out := make(chan models.SegmentResult, len(windows))

	go func() {
		defer close(jobs)
		for _, w := range windows {
			select {
			case jobs <- w:
			case <-ctx.Done():
				return
			case <-callCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				if ctx.Err() != nil || callCtx.Err() != nil {
					continue
				}
				out <- d.process(callCtx, src, w)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var fatalErr error
	completed := 0
	for res := range out {
		results[res.Index] = res
		completed++
		if !res.Succeeded() {
			utils.Warn("片段 %s 转写失败: %v", res.Window, res.Err)
			if fatalErr == nil && models.IsFatal(res.Err) {
				fatalErr = res.Err
				utils.Error("遇到不可恢复的错误，取消剩余片段: %v", res.Err)
				cancelCalls(res.Err)
			}
		}
		d.sink.OnProgress(ProgressEvent{
			SegmentIndex: res.Index,
			Status:       res.Status,
			Completed:    completed,
			Total:        len(windows),
			Window:       res.Window,
			Err:          res.Err,
		})
	}

	var cause error
	switch {
	case fatalErr != nil:
		cause = fatalErr
	case ctx.Err() != nil:
		cause = context.Cause(ctx)
	}
	for _, w := range windows {
		if _, ok := results[w.Index]; ok {
			continue
		}
		results[w.Index] = models.SegmentResult{
			Index:  w.Index,
			Window: w,
			Status: models.StatusFailed,
			Err:    models.NewCancelledError(cause),
		}
	}

	if fatalErr != nil {
		return results, fatalErr
	}
	if ctx.Err() != nil {
		return results, models.NewCancelledError(cause)
	}
	return results, nil
}

// process 提取并转写一个窗口，返回前释放片段文件
func (d *Dispatcher) process(ctx context.Context, src models.AudioSource, w models.SegmentWindow) models.SegmentResult {
	start := time.Now()
	res := models.SegmentResult{Index: w.Index, Window: w, Status: models.StatusFailed}

	var unit *models.SegmentUnit
	_, err := d.extract.Retry(ctx, "extract", func(attempt int) error {
		u, err := d.extractor.Extract(ctx, src, w)
		if err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			err = models.NewCancelledError(context.Cause(ctx))
		}
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	defer func() {
		if err := unit.Release(); err != nil {
			utils.Warn("删除片段文件失败 %s: %v", unit.Path, err)
		}
	}()

	utils.Debug("开始转写片段 %s", w)
	text, attempts, err := d.transcriber.TranscribeSegment(ctx, unit)
	res.Attempts = attempts
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}

	res.Status = models.StatusSuccess
	res.Text = text
	utils.Debug("片段 %s 转写完成，尝试 %d 次，耗时 %s", w, attempts, utils.FormatDurationCompact(res.Elapsed))
	return res
}
