package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// SegmentRecord 单个片段的导出记录
type SegmentRecord struct {
	Index     int     `json:"index"`
	Start     float64 `json:"start"` // 开始时间（秒）
	End       float64 `json:"end"`   // 结束时间（秒）
	Status    string  `json:"status"`
	Text      string  `json:"text,omitempty"`
	Error     string  `json:"error,omitempty"`
	Attempts  int     `json:"attempts"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// RunDocument 一次运行的完整导出内容
type RunDocument struct {
	ID             string              `json:"id"`
	Source         models.AudioSource  `json:"source"`
	StartedAt      time.Time           `json:"started_at"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	SpeedRatio     float64             `json:"speed_ratio"`
	Segments       []SegmentRecord     `json:"segments"`
	Timings        models.RunTimings   `json:"timings"`
	Usage          models.UsageSummary `json:"usage"`
	Outputs        map[string]string   `json:"outputs,omitempty"`
}

// JSONExporter 把运行元数据导出为 <name>_run.json
type JSONExporter struct {
	OutputFolder string
}

// NewJSONExporter 创建一个新的JSON导出器
func NewJSONExporter(outputFolder string) *JSONExporter {
	return &JSONExporter{
		OutputFolder: outputFolder,
	}
}

// BuildDocument 根据运行记录生成导出结构
func (e *JSONExporter) BuildDocument(run *models.TranscriptionRun) RunDocument {
	doc := RunDocument{
		ID:             run.ID,
		Source:         run.Source,
		StartedAt:      run.StartedAt,
		ElapsedSeconds: run.Elapsed().Seconds(),
		SpeedRatio:     run.SpeedRatio(),
		Segments:       make([]SegmentRecord, 0, len(run.Results)),
		Timings:        run.Timings,
		Usage:          run.Usage,
		Outputs:        run.Outputs,
	}

	for _, res := range run.Results {
		doc.Segments = append(doc.Segments, SegmentRecord{
			Index:     res.Index,
			Start:     res.Window.Start,
			End:       res.Window.End,
			Status:    string(res.Status),
			Text:      res.Text,
			Error:     res.ErrorMessage(),
			Attempts:  res.Attempts,
			ElapsedMs: res.Elapsed.Milliseconds(),
		})
	}
	return doc
}

// ExportRun 导出JSON文件
func (e *JSONExporter) ExportRun(run *models.TranscriptionRun) (string, error) {
	outputFile := filepath.Join(e.OutputFolder, fmt.Sprintf("%s_run.json", utils.SafeFilename(run.Source.Name, 100)))

	if err := utils.SaveJSONFile(outputFile, e.BuildDocument(run)); err != nil {
		return "", fmt.Errorf("写入JSON文件失败: %w", err)
	}

	utils.Info("已导出JSON文件: %s", outputFile)
	return outputFile, nil
}
