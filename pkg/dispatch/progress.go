package dispatch

import (
	"github.com/ccp-p/media-transcriber/pkg/models"
)

// ProgressEvent 一个片段处理完成
type ProgressEvent struct {
	SegmentIndex int
	Status       models.SegmentStatus
	Completed    int
	Total        int
	Window       models.SegmentWindow
	Err          error
}

// ProgressSink 接收进度事件
// 事件由同一个协程依次发出，实现不需要加锁，但不应阻塞
type ProgressSink interface {
	OnProgress(ev ProgressEvent)
}

// SinkFunc 函数适配
type SinkFunc func(ev ProgressEvent)

func (f SinkFunc) OnProgress(ev ProgressEvent) {
	f(ev)
}

// MultiSink 把事件转发给多个接收者
type MultiSink []ProgressSink

func (m MultiSink) OnProgress(ev ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.OnProgress(ev)
		}
	}
}

// NopSink 丢弃所有事件
var NopSink ProgressSink = SinkFunc(func(ProgressEvent) {})
