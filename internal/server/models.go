package server

import (
	"time"

	"github.com/ccp-p/media-transcriber/pkg/models"
)

// --- 请求结构体 ---

// YouTubeRequest 转写 YouTube 视频
type YouTubeRequest struct {
	URL            string `json:"url" binding:"required"`
	Mode           string `json:"mode"`
	APIKeyOverride string `json:"api_key_override"`
}

// ValidateKeyRequest 校验 API 密钥
type ValidateKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// --- 响应结构体 ---

// BaseResponse 所有接口的统一外层，Code 为 0 表示成功
type BaseResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// TaskCreated 创建任务的返回
type TaskCreated struct {
	TaskID string `json:"task_id"`
}

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusPending TaskStatus = "PENDING"
	StatusRunning TaskStatus = "RUNNING"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFailed  TaskStatus = "FAILED"
)

// Finished 是否已结束
func (s TaskStatus) Finished() bool {
	return s == StatusSuccess || s == StatusFailed
}

// TaskProgress 片段进度
type TaskProgress struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// TaskResult 成功任务的结果
type TaskResult struct {
	Raw            string              `json:"raw_text"`
	Formatted      string              `json:"formatted_text,omitempty"`
	Summary        string              `json:"summary_text,omitempty"`
	Outputs        map[string]string   `json:"output_files,omitempty"`
	Duration       float64             `json:"duration"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	Usage          models.UsageSummary `json:"usage"`
}

// TaskView 任务的只读快照
type TaskView struct {
	ID        string       `json:"id"`
	Input     string       `json:"input"`
	Mode      string       `json:"mode"`
	Status    TaskStatus   `json:"status"`
	Stage     string       `json:"stage,omitempty"`
	Progress  TaskProgress `json:"progress"`
	Result    *TaskResult  `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind string       `json:"error_kind,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Event 通过 WebSocket 推送的消息
type Event struct {
	Type     string        `json:"type"` // status, progress, done
	Task     *TaskView     `json:"task,omitempty"`
	Segment  *SegmentEvent `json:"segment,omitempty"`
	Progress TaskProgress  `json:"progress"`
}

// SegmentEvent 单个片段的完成情况
type SegmentEvent struct {
	Index  int     `json:"index"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Status string  `json:"status"`
	Error  string  `json:"error,omitempty"`
}
