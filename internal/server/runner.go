package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/dispatch"
	"github.com/ccp-p/media-transcriber/pkg/gateway"
	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/pipeline"
	"github.com/ccp-p/media-transcriber/pkg/transcript"
)

// Job 一个后台转写任务的参数
type Job struct {
	TaskID string
	Input  string // 本地文件路径或 YouTube 链接
	Mode   transcript.Mode
	APIKey string // 非空时覆盖服务端配置的密钥
	Sink   dispatch.ProgressSink
}

// Runner 执行转写任务
type Runner interface {
	Run(ctx context.Context, job Job) (*models.TranscriptionRun, error)
}

// KeyValidator 校验 API 密钥
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) error
}

// PipelineRunner 用转写流水线执行任务，所有任务共享一个限流器
type PipelineRunner struct {
	Config  *models.Config
	Client  *llm.GeminiClient
	Limiter *rate.Limiter
	Prompts gateway.PromptSet
}

// NewPipelineRunner 创建任务执行器
func NewPipelineRunner(cfg *models.Config, client *llm.GeminiClient) (*PipelineRunner, error) {
	prompts, err := gateway.LoadPrompts(cfg.PromptDir)
	if err != nil {
		return nil, err
	}
	limiter := gateway.NewLimiter(cfg.RateLimitRequests, cfg.RateWindow())
	return &PipelineRunner{
		Config:  cfg,
		Client:  client.WithLimiter(limiter),
		Limiter: limiter,
		Prompts: prompts,
	}, nil
}

// Run 解析输入并执行一次完整的转写
func (r *PipelineRunner) Run(ctx context.Context, job Job) (*models.TranscriptionRun, error) {
	client := r.Client
	if job.APIKey != "" {
		client = client.WithAPIKey(job.APIKey)
	} else if client.APIKey == "" {
		return nil, models.NewAuthError("服务端未配置 GEMINI_API_KEY，请在请求中提供 api_key_override", nil)
	}

	// 下载和抽取的音轨放在任务自己的目录中
	workDir := filepath.Join(r.Config.TempDir, "task_"+job.TaskID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("创建任务目录失败: %w", err)
	}
	defer os.RemoveAll(workDir)

	src, err := audio.NewResolver(workDir).Resolve(ctx, job.Input)
	if err != nil {
		return nil, models.WithStage(models.StageResolve, err)
	}

	p, _ := pipeline.NewFromConfig(r.Config, pipeline.Deps{
		Provider: client,
		Limiter:  r.Limiter,
		Prompts:  r.Prompts,
	})
	return p.Run(ctx, src, pipeline.RunOptions{
		RunID: job.TaskID,
		Mode:  job.Mode,
		Sink:  job.Sink,
	})
}

// GeminiKeyValidator 通过列出模型校验密钥
type GeminiKeyValidator struct {
	Client *llm.GeminiClient
}

// ValidateKey 密钥无效时返回认证错误
func (v GeminiKeyValidator) ValidateKey(ctx context.Context, apiKey string) error {
	err := v.Client.WithAPIKey(apiKey).ValidateKey(ctx)
	if err == nil {
		return nil
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 401, 403:
			return models.NewAuthError("API 密钥无效", err)
		}
	}
	return err
}
