package pipeline

import (
	"golang.org/x/time/rate"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/export"
	"github.com/ccp-p/media-transcriber/pkg/gateway"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Deps 多次运行之间共享的依赖
type Deps struct {
	Provider gateway.Provider
	// Limiter 进程级共享，nil 时按配置新建
	Limiter *rate.Limiter
	Prompts gateway.PromptSet
}

// NewFromConfig 按配置组装一次运行用的流水线
// 每次运行单独创建网关，用量统计互不干扰
func NewFromConfig(cfg *models.Config, deps Deps) (*Pipeline, *gateway.Gateway) {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = gateway.NewLimiter(cfg.RateLimitRequests, cfg.RateWindow())
	}

	gw := gateway.New(deps.Provider, gateway.Options{
		Model: cfg.GeminiModel,
		Policy: utils.RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryCeiling(),
		},
		Prompts: deps.Prompts,
		Limiter: limiter,
		Usage:   gateway.NewUsageCounter(cfg.GeminiModel),
	})

	var exporters []export.RunExporter
	if cfg.ExportJSON {
		exporters = append(exporters, export.NewJSONExporter(cfg.OutputFolder))
	}
	if cfg.ExportSRT {
		exporters = append(exporters, export.NewSRTExporter(cfg.OutputFolder))
	}

	p := &Pipeline{
		Extractors: func(sessionDir string) audio.Extractor {
			return audio.NewAudioExtractor(sessionDir)
		},
		Transcriber: gw,
		Text:        gw,
		Usage:       gw.Usage(),
		Writer:      export.NewFileWriter(cfg.OutputFolder),
		Exporters:   exporters,
		Settings: Settings{
			TempDir:            cfg.TempDir,
			MaxSegmentDuration: cfg.MaxSegmentDuration,
			Concurrency:        cfg.MaxWorkers,
			ExtractRetries:     cfg.ExtractRetries,
			GracePeriod:        cfg.Grace(),
			BestEffort:         cfg.BestEffort,
		},
	}
	return p, gw
}
