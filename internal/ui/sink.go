package ui

import (
	"fmt"

	"github.com/ccp-p/media-transcriber/pkg/dispatch"
	"github.com/ccp-p/media-transcriber/pkg/models"
)

// TerminalSink 在终端进度条上显示片段进度
type TerminalSink struct {
	manager *ProgressManager
	id      string
	prefix  string
}

// NewTerminalSink 为一次运行创建进度显示
func NewTerminalSink(manager *ProgressManager, runID, prefix string) *TerminalSink {
	return &TerminalSink{manager: manager, id: "run-" + runID, prefix: prefix}
}

// OnProgress 实现 dispatch.ProgressSink
func (s *TerminalSink) OnProgress(ev dispatch.ProgressEvent) {
	if !s.manager.Enabled() {
		return
	}

	bar := s.manager.GetProgressBar(s.id)
	if bar == nil {
		bar = s.manager.CreateProgressBar(s.id, ev.Total, s.prefix, "")
	}

	mark := "✓"
	if ev.Status == models.StatusFailed {
		mark = "✗"
	}
	suffix := fmt.Sprintf("片段 %s %s", ev.Window, mark)

	if ev.Completed >= ev.Total {
		bar.Update(ev.Completed, suffix)
		s.manager.CompleteProgressBar(s.id, "转写完成")
		return
	}
	bar.Update(ev.Completed, suffix)
}

// Close 结束未完成的进度条
func (s *TerminalSink) Close() {
	if s.manager.GetProgressBar(s.id) != nil {
		s.manager.CompleteProgressBar(s.id, "已结束")
	}
}
