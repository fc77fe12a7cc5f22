package models

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// InputType 输入来源类型
type InputType string

const (
	InputFile    InputType = "file"
	InputYouTube InputType = "youtube"
)

// AudioSource 解析后的音频输入，创建后不再修改
type AudioSource struct {
	Path       string    `json:"path"`        // 本地音频路径
	Name       string    `json:"name"`        // 输出文件基础名
	Format     string    `json:"format"`      // 文件格式
	Duration   float64   `json:"duration"`    // 时长(秒)
	SampleRate int       `json:"sample_rate"` // 采样率(Hz)
	Channels   int       `json:"channels"`    // 声道数
	Bitrate    int       `json:"bitrate"`     // 比特率(kbps)
	Size       int64     `json:"size"`        // 文件大小(字节)
	InputType  InputType `json:"input_type"`
	Origin     string    `json:"origin"` // 原始输入（文件路径或 URL）
}

// SegmentWindow 音频中的一个时间窗口 [Start, End)
type SegmentWindow struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration 窗口时长（秒）
func (w SegmentWindow) Duration() float64 {
	return w.End - w.Start
}

func (w SegmentWindow) String() string {
	return fmt.Sprintf("#%d [%s-%s]", w.Index, FormatTimestamp(w.Start), FormatTimestamp(w.End))
}

// SegmentUnit 提取出的片段音频，由处理它的工作协程独占
type SegmentUnit struct {
	Window SegmentWindow
	Path   string
	Owned  bool // 为 true 时 Release 会删除文件

	once sync.Once
}

// Release 删除临时文件，可重复调用
func (u *SegmentUnit) Release() error {
	if u == nil || !u.Owned {
		return nil
	}
	var err error
	u.once.Do(func() {
		if rmErr := os.Remove(u.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = rmErr
		}
	})
	return err
}

// SegmentStatus 片段处理状态
type SegmentStatus string

const (
	StatusSuccess SegmentStatus = "success"
	StatusFailed  SegmentStatus = "failed"
)

// SegmentResult 单个片段的转写结果
// Status 为 StatusSuccess 时 Text 有效，为 StatusFailed 时 Err 有效
type SegmentResult struct {
	Index    int           `json:"index"`
	Window   SegmentWindow `json:"window"`
	Status   SegmentStatus `json:"status"`
	Text     string        `json:"text,omitempty"`
	Err      error         `json:"-"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Succeeded 是否成功
func (r SegmentResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorMessage 返回错误文本，便于序列化
func (r SegmentResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// FormatTimestamp 将秒数格式化为 hh:mm:ss
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
