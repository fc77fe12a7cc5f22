package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ccp-p/media-transcriber/internal/ui"
	"github.com/ccp-p/media-transcriber/internal/watcher"
	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/dispatch"
	"github.com/ccp-p/media-transcriber/pkg/gateway"
	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/pipeline"
	"github.com/ccp-p/media-transcriber/pkg/scanner"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// InputResolver 把用户输入解析为音频
type InputResolver interface {
	Resolve(ctx context.Context, input string) (models.AudioSource, error)
}

// Options 可替换的组件，零值使用默认实现
type Options struct {
	Provider   gateway.Provider
	Resolver   InputResolver
	Extractors pipeline.ExtractorFactory
	Out        io.Writer
	// NoSignals 为 true 时不注册中断信号处理
	NoSignals bool
}

// ProcessorController 处理器控制器，协调各个组件工作
type ProcessorController struct {
	// 配置
	Config *models.Config

	// UI组件
	ProgressManager *ui.ProgressManager
	out             io.Writer

	// 处理组件
	Resolver   InputResolver
	Scanner    *scanner.MediaScanner
	provider   gateway.Provider
	limiter    *rate.Limiter
	prompts    gateway.PromptSet
	extractors pipeline.ExtractorFactory

	// 上下文控制
	ctx        context.Context
	cancelFunc context.CancelFunc

	// 状态数据
	Stats struct {
		StartTime       time.Time
		TotalFiles      int
		SuccessfulFiles int
		FailedFiles     int
		TotalCost       float64
	}

	// 资源管理
	WorkDir string
	cleanup []func() // 清理函数列表
	mu      sync.Mutex
}

// NewProcessorController 创建处理器控制器
func NewProcessorController(cfg *models.Config, opts Options) (*ProcessorController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := &ProcessorController{
		Config:          cfg,
		ProgressManager: ui.NewProgressManager(cfg.ShowProgress),
		out:             opts.Out,
		Scanner:         scanner.NewMediaScanner(),
		limiter:         gateway.NewLimiter(cfg.RateLimitRequests, cfg.RateWindow()),
		extractors:      opts.Extractors,
		ctx:             ctx,
		cancelFunc:      cancel,
	}
	if pc.out == nil {
		pc.out = os.Stdout
	}

	prompts, err := gateway.LoadPrompts(cfg.PromptDir)
	if err != nil {
		cancel()
		return nil, err
	}
	pc.prompts = prompts

	pc.provider = opts.Provider
	if pc.provider == nil {
		if err := cfg.RequireAPIKey(); err != nil {
			cancel()
			return nil, err
		}
		pc.provider = llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.Timeout()).WithLimiter(pc.limiter)
	}

	// 下载文件和视频音轨放在独立的工作目录中，结束时删除
	pc.WorkDir = filepath.Join(cfg.TempDir, "work_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if err := os.MkdirAll(pc.WorkDir, 0755); err != nil {
		cancel()
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	workDir := pc.WorkDir
	pc.addCleanup(func() { os.RemoveAll(workDir) })

	pc.Resolver = opts.Resolver
	if pc.Resolver == nil {
		pc.Resolver = audio.NewResolver(pc.WorkDir)
	}

	if cfg.ShowProgress {
		utils.EnableTerminalProgress()
		pc.addCleanup(utils.DisableTerminalProgress)
	}

	if !opts.NoSignals {
		pc.setupSignalHandlers()
	}

	return pc, nil
}

// Context 返回控制器的上下文，中断信号会取消它
func (pc *ProcessorController) Context() context.Context {
	return pc.ctx
}

// Cancel 取消正在进行的处理
func (pc *ProcessorController) Cancel() {
	pc.cancelFunc()
}

// newPipeline 每次运行使用独立的用量统计，限流器共享
func (pc *ProcessorController) newPipeline() *pipeline.Pipeline {
	p, _ := pipeline.NewFromConfig(pc.Config, pipeline.Deps{
		Provider: pc.provider,
		Limiter:  pc.limiter,
		Prompts:  pc.prompts,
	})
	if pc.extractors != nil {
		p.Extractors = pc.extractors
	}
	return p
}

// ProcessInput 转写一个文件或 YouTube 链接并打印统计
func (pc *ProcessorController) ProcessInput(input string, opts pipeline.RunOptions) (*models.TranscriptionRun, error) {
	return pc.processInput(pc.ctx, input, opts)
}

func (pc *ProcessorController) processInput(ctx context.Context, input string, opts pipeline.RunOptions) (*models.TranscriptionRun, error) {
	if pc.Stats.StartTime.IsZero() {
		pc.Stats.StartTime = time.Now()
	}

	src, err := pc.Resolver.Resolve(ctx, input)
	if err != nil {
		pc.recordResult(nil, err)
		return nil, models.WithStage(models.StageResolve, err)
	}
	utils.Info("开始转写: %s (%s, %s)", src.Name, utils.FormatTimeDuration(src.Duration), utils.FormatFileSize(src.Size))

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	sink := ui.NewTerminalSink(pc.ProgressManager, opts.RunID, "转写 "+src.Name)
	defer sink.Close()
	if opts.Sink != nil {
		opts.Sink = dispatch.MultiSink{sink, opts.Sink}
	} else {
		opts.Sink = sink
	}

	run, err := pc.newPipeline().Run(ctx, src, opts)
	sink.Close()
	pc.recordResult(run, err)
	if run != nil {
		ui.PrintRunSummary(pc.out, run)
	}
	if err != nil {
		color.New(color.FgRed).Fprintf(pc.out, "处理失败: %s - %v\n", src.Name, err)
		return run, err
	}
	return run, nil
}

// ProcessFile 实现 watcher.FileProcessor
func (pc *ProcessorController) ProcessFile(ctx context.Context, path string) error {
	_, err := pc.processInput(ctx, path, pipeline.RunOptions{})
	return err
}

// ProcessDirectory 依次转写目录中的全部媒体文件
// 认证或配额错误会终止后续文件
func (pc *ProcessorController) ProcessDirectory(dir string, opts pipeline.RunOptions) ([]*models.TranscriptionRun, error) {
	files, err := pc.Scanner.ScanDirectory(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		utils.Warn("目录中没有可处理的媒体文件: %s", dir)
		return nil, nil
	}

	bar := pc.ProgressManager.CreateProgressBar("files", len(files), "文件", "")
	defer pc.ProgressManager.CompleteProgressBar("files", "全部完成")

	var runs []*models.TranscriptionRun
	var failed []string
	for i, f := range files {
		if pc.ctx.Err() != nil {
			break
		}
		fmt.Fprintf(pc.out, "\n[%d/%d] 开始处理: %s\n", i+1, len(files), f.Name)

		fileOpts := opts
		fileOpts.RunID = ""
		run, err := pc.ProcessInput(f.Path, fileOpts)
		if run != nil {
			runs = append(runs, run)
		}
		if bar != nil {
			bar.Update(i+1, f.Name)
		}
		if err != nil {
			failed = append(failed, f.Name)
			if models.IsFatal(err) {
				return runs, err
			}
		}
	}

	if pc.ctx.Err() != nil {
		return runs, models.NewCancelledError(pc.ctx.Err())
	}
	if len(failed) > 0 {
		return runs, fmt.Errorf("%d 个文件处理失败: %s", len(failed), strings.Join(failed, ", "))
	}
	return runs, nil
}

// StartWatchMode 监控文件夹并自动转写新文件，直到收到中断信号
func (pc *ProcessorController) StartWatchMode(folder, archiveFolder string) error {
	stop, err := watcher.StartWatching(pc.ctx, folder, archiveFolder, pc, 3*time.Second)
	if err != nil {
		return err
	}
	pc.addCleanup(stop)

	utils.Info("监控已启动，按Ctrl+C退出...")
	fmt.Fprintf(pc.out, "正在监控 %s，按 Ctrl+C 退出\n", folder)

	return pc.waitForTermination()
}

// PrintStats 打印批量处理统计
func (pc *ProcessorController) PrintStats() {
	if pc.Stats.TotalFiles <= 1 {
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintln(pc.out, "\n===== 批量处理统计 =====")
	fmt.Fprintf(pc.out, "  文件总数: %d\n", pc.Stats.TotalFiles)
	color.New(color.FgGreen).Fprintf(pc.out, "  成功: %d\n", pc.Stats.SuccessfulFiles)
	if pc.Stats.FailedFiles > 0 {
		color.New(color.FgRed).Fprintf(pc.out, "  失败: %d\n", pc.Stats.FailedFiles)
	}
	fmt.Fprintf(pc.out, "  总耗时: %s\n", utils.FormatDurationCompact(time.Since(pc.Stats.StartTime)))
	fmt.Fprintf(pc.out, "  预估总费用: $%.4f (约 %.1f 日元)\n", pc.Stats.TotalCost, pc.Stats.TotalCost*ui.JPYPerUSD)
}

// 统计处理结果
func (pc *ProcessorController) recordResult(run *models.TranscriptionRun, err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.Stats.TotalFiles++
	if err != nil {
		pc.Stats.FailedFiles++
	} else {
		pc.Stats.SuccessfulFiles++
	}
	if run != nil {
		pc.Stats.TotalCost += run.Usage.Total.Cost
	}
}

// 添加清理函数
func (pc *ProcessorController) addCleanup(cleanup func()) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cleanup = append(pc.cleanup, cleanup)
}

// Cleanup 逆序执行所有清理
func (pc *ProcessorController) Cleanup() {
	pc.mu.Lock()
	cleanup := pc.cleanup
	pc.cleanup = nil
	pc.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	if pc.ProgressManager != nil {
		pc.ProgressManager.CloseAll("已完成")
	}
	pc.cancelFunc()
}

// 设置中断处理
func (pc *ProcessorController) setupSignalHandlers() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-c:
			utils.Info("接收到中断信号，正在停止...")
			pc.cancelFunc()
		case <-pc.ctx.Done():
		}
		signal.Stop(c)
	}()
}

// 等待终止信号
func (pc *ProcessorController) waitForTermination() error {
	<-pc.ctx.Done()
	return nil
}
