package models

import (
	"sync"
	"time"
)

// Stage 流水线阶段名称
const (
	StageResolve     = "resolve"
	StagePlan        = "plan"
	StageTranscribe  = "transcribe"
	StageConsolidate = "consolidate"
	StageFormat      = "format"
	StageSummarize   = "summarize"
	StageWrite       = "write"
)

// OperationUsage 一类调用的用量统计
type OperationUsage struct {
	Calls        int     `json:"calls"`
	Attempts     int     `json:"attempts"`
	InputTokens  int     `json:"input_tokens"`
	AudioTokens  int     `json:"audio_tokens"`
	OutputTokens int     `json:"output_tokens"`
	AudioSeconds float64 `json:"audio_seconds"`
	Cost         float64 `json:"cost_usd"`
}

// Add 累加另一份统计
func (u *OperationUsage) Add(o OperationUsage) {
	u.Calls += o.Calls
	u.Attempts += o.Attempts
	u.InputTokens += o.InputTokens
	u.AudioTokens += o.AudioTokens
	u.OutputTokens += o.OutputTokens
	u.AudioSeconds += o.AudioSeconds
	u.Cost += o.Cost
}

// UsageSummary 一次运行的用量快照
type UsageSummary struct {
	Model       string                    `json:"model"`
	ByOperation map[string]OperationUsage `json:"by_operation"`
	Total       OperationUsage            `json:"total"`
}

// RunTimings 各阶段耗时
type RunTimings struct {
	Planning       time.Duration `json:"planning"`
	Transcription  time.Duration `json:"transcription"`
	Consolidation  time.Duration `json:"consolidation"`
	PostProcessing time.Duration `json:"post_processing"`
	Writing        time.Duration `json:"writing"`
}

// TranscriptionRun 一次完整转写运行的状态
type TranscriptionRun struct {
	ID        string            `json:"id"`
	Source    AudioSource       `json:"source"`
	Windows   []SegmentWindow   `json:"windows"`
	Results   []SegmentResult   `json:"results"`
	Raw       string            `json:"raw_text"`
	Formatted string            `json:"formatted_text"`
	Summary   string            `json:"summary_text"`
	Outputs   map[string]string `json:"output_files,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Timings   RunTimings        `json:"timings"`
	Usage     UsageSummary      `json:"usage"`

	mu         sync.Mutex
	finishedAt time.Time
}

// NewTranscriptionRun 创建运行记录
func NewTranscriptionRun(id string, source AudioSource) *TranscriptionRun {
	return &TranscriptionRun{
		ID:        id,
		Source:    source,
		StartedAt: time.Now(),
	}
}

// Finish 停止计时
func (r *TranscriptionRun) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		r.finishedAt = time.Now()
	}
}

// Elapsed 处理耗时，基于单调时钟，运行中持续增长，结束后固定
func (r *TranscriptionRun) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.finishedAt.Sub(r.StartedAt)
}

// SegmentCounts 返回成功和失败的片段数
func (r *TranscriptionRun) SegmentCounts() (succeeded, failed int) {
	for _, res := range r.Results {
		if res.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// SpeedRatio 音频时长与处理耗时之比
func (r *TranscriptionRun) SpeedRatio() float64 {
	elapsed := r.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return r.Source.Duration / elapsed
}
