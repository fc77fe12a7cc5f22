package transcript

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Mode 后处理模式
type Mode int

const (
	ModeAll Mode = iota
	ModeFormatOnly
	ModeSummarizeOnly
)

// ParseMode 解析 all、format、summarize
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ModeAll, nil
	case "format", "format_only", "format-only":
		return ModeFormatOnly, nil
	case "summarize", "summary", "summarize_only", "summarize-only":
		return ModeSummarizeOnly, nil
	}
	return ModeAll, models.NewInvalidInputError("未知的处理模式: %s", s)
}

func (m Mode) String() string {
	switch m {
	case ModeFormatOnly:
		return "format"
	case ModeSummarizeOnly:
		return "summarize"
	}
	return "all"
}

// Formats 是否需要整理
func (m Mode) Formats() bool { return m != ModeSummarizeOnly }

// Summarizes 是否需要摘要
func (m Mode) Summarizes() bool { return m != ModeFormatOnly }

// TextGateway 文本类模型调用
type TextGateway interface {
	Format(ctx context.Context, text string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// PostResult 两个后处理的结果，互不影响
type PostResult struct {
	Formatted    string
	Summary      string
	FormatErr    error
	SummarizeErr error
	Elapsed      time.Duration
}

// Err 返回第一个失败，已标注阶段
func (r PostResult) Err() error {
	if r.FormatErr != nil {
		return models.WithStage(models.StageFormat, r.FormatErr)
	}
	if r.SummarizeErr != nil {
		return models.WithStage(models.StageSummarize, r.SummarizeErr)
	}
	return nil
}

// PostProcessor 对合并后的文本做整理和摘要
type PostProcessor struct {
	gateway TextGateway
}

// NewPostProcessor 创建后处理器
func NewPostProcessor(gateway TextGateway) *PostProcessor {
	return &PostProcessor{gateway: gateway}
}

// Format 整理文本
func (p *PostProcessor) Format(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", models.NewInvalidInputError("待整理文本为空")
	}
	text, err := p.gateway.Format(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("整理文本失败: %w", err)
	}
	return text, nil
}

// Summarize 生成摘要
func (p *PostProcessor) Summarize(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", models.NewInvalidInputError("待摘要文本为空")
	}
	text, err := p.gateway.Summarize(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("生成摘要失败: %w", err)
	}
	return text, nil
}

// Run 按模式执行后处理，两项同时运行，一项失败不取消另一项
func (p *PostProcessor) Run(ctx context.Context, raw string, mode Mode) PostResult {
	start := time.Now()
	var (
		res PostResult
		wg  sync.WaitGroup
	)

	if mode.Formats() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Formatted, res.FormatErr = p.Format(ctx, raw)
		}()
	}
	if mode.Summarizes() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Summary, res.SummarizeErr = p.Summarize(ctx, raw)
		}()
	}
	wg.Wait()

	res.Elapsed = time.Since(start)
	if res.FormatErr != nil {
		utils.Warn("文本整理失败: %v", res.FormatErr)
	}
	if res.SummarizeErr != nil {
		utils.Warn("摘要生成失败: %v", res.SummarizeErr)
	}
	return res
}
