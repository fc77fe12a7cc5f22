// Package pipeline 串联规划、调度、合并、后处理和写出
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/dispatch"
	"github.com/ccp-p/media-transcriber/pkg/export"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/segment"
	"github.com/ccp-p/media-transcriber/pkg/transcript"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// ExtractorFactory 为一次运行的会话目录创建片段提取器
type ExtractorFactory func(sessionDir string) audio.Extractor

// UsageSource 提供用量快照
type UsageSource interface {
	Snapshot() models.UsageSummary
}

// Settings 运行参数的默认值
type Settings struct {
	TempDir            string
	MaxSegmentDuration float64
	Concurrency        int
	ExtractRetries     int
	GracePeriod        time.Duration
	BestEffort         bool
}

// RunOptions 单次运行的参数，零值使用 Settings
type RunOptions struct {
	RunID       string
	Mode        transcript.Mode
	Sink        dispatch.ProgressSink
	Concurrency int
	MaxSegment  float64
	BestEffort  bool
}

// Pipeline 一次转写运行需要的全部组件
type Pipeline struct {
	Extractors  ExtractorFactory
	Transcriber dispatch.Transcriber
	Text        transcript.TextGateway
	Usage       UsageSource
	Writer      export.OutputWriter
	Exporters   []export.RunExporter
	Settings    Settings
}

// Run 执行完整流水线
//
// 阶段失败包装为 models.StageError。只有全部阶段成功时才写出文件；
// 会话临时目录在任何情况下都会删除。返回的运行记录在失败时同样有效。
func (p *Pipeline) Run(ctx context.Context, src models.AudioSource, opts RunOptions) (run *models.TranscriptionRun, err error) {
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	run = models.NewTranscriptionRun(id, src)
	log := utils.ForRun(id)
	defer func() {
		if p.Usage != nil {
			run.Usage = p.Usage.Snapshot()
		}
		run.Finish()
		if err != nil {
			log.Errorf("转写 %s 失败 (%s): %v", src.Name, utils.FormatDurationCompact(run.Elapsed()), err)
		}
	}()

	maxSegment := p.Settings.MaxSegmentDuration
	if opts.MaxSegment > 0 {
		maxSegment = opts.MaxSegment
	}
	concurrency := p.Settings.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}

	// 规划
	stageStart := time.Now()
	windows, err := segment.Plan(src.Duration, maxSegment)
	if err != nil {
		return run, models.WithStage(models.StagePlan, err)
	}
	run.Windows = windows
	run.Timings.Planning = time.Since(stageStart)
	log.Infof("%s 时长 %s，切分为 %d 个片段", src.Name, utils.FormatTimeDuration(src.Duration), len(windows))

	sessionDir := filepath.Join(p.Settings.TempDir, "transcriber_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return run, models.WithStage(models.StagePlan, fmt.Errorf("创建临时目录失败: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(sessionDir); rmErr != nil {
			log.Warnf("清理临时目录失败 %s: %v", sessionDir, rmErr)
		}
	}()

	// 转写
	stageStart = time.Now()
	dispatcher := dispatch.New(p.Extractors(sessionDir), p.Transcriber, dispatch.Options{
		Sink:           opts.Sink,
		ExtractRetries: p.Settings.ExtractRetries,
		GracePeriod:    p.Settings.GracePeriod,
	})
	results, err := dispatcher.Dispatch(ctx, src, windows, concurrency)
	run.Results = transcript.ResultsInOrder(results)
	run.Timings.Transcription = time.Since(stageStart)
	if err != nil {
		return run, models.WithStage(models.StageTranscribe, err)
	}

	// 合并
	stageStart = time.Now()
	consolidator := transcript.NewConsolidator(p.Settings.BestEffort || opts.BestEffort)
	raw, err := consolidator.Consolidate(src, run.Results)
	run.Timings.Consolidation = time.Since(stageStart)
	if err != nil {
		return run, models.WithStage(models.StageConsolidate, err)
	}
	run.Raw = raw

	// 后处理
	post := transcript.NewPostProcessor(p.Text).Run(ctx, raw, opts.Mode)
	run.Formatted = post.Formatted
	run.Summary = post.Summary
	run.Timings.PostProcessing = post.Elapsed
	if err := post.Err(); err != nil {
		return run, err
	}

	// 写出
	stageStart = time.Now()
	if err := p.write(run); err != nil {
		return run, models.WithStage(models.StageWrite, err)
	}
	run.Timings.Writing = time.Since(stageStart)

	succeeded, failed := run.SegmentCounts()
	log.Infof("转写 %s 完成: %d 个片段成功，%d 个失败，耗时 %s",
		src.Name, succeeded, failed, utils.FormatDurationCompact(run.Elapsed()))
	return run, nil
}

func (p *Pipeline) write(run *models.TranscriptionRun) error {
	run.Outputs = make(map[string]string)
	if p.Writer != nil {
		paths, err := p.Writer.WriteArtifacts(run.Source.Name, map[export.Artifact]string{
			export.ArtifactRaw:       run.Raw,
			export.ArtifactFormatted: run.Formatted,
			export.ArtifactSummary:   run.Summary,
		})
		if err != nil {
			return err
		}
		for a, path := range paths {
			run.Outputs[string(a)] = path
		}
	}

	if len(p.Exporters) == 0 {
		return nil
	}
	if p.Usage != nil {
		run.Usage = p.Usage.Snapshot()
	}
	for _, e := range p.Exporters {
		path, err := e.ExportRun(run)
		if err != nil {
			return err
		}
		run.Outputs[strings.TrimPrefix(filepath.Ext(path), ".")] = path
	}
	return nil
}
