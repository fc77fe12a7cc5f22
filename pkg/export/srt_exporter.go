package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// SRTExporter 每个片段窗口输出一条字幕
type SRTExporter struct {
	OutputFolder string
}

// NewSRTExporter 创建一个新的SRT导出器
func NewSRTExporter(outputFolder string) *SRTExporter {
	return &SRTExporter{
		OutputFolder: outputFolder,
	}
}

// FormatSRTTime 将秒数格式化为SRT时间格式 (HH:MM:SS,mmm)
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	hours := totalMs / 3600000
	minutes := (totalMs % 3600000) / 60000
	secs := (totalMs % 60000) / 1000
	ms := totalMs % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms)
}

// GenerateSRTContent 生成SRT格式内容，失败和空白片段跳过
func GenerateSRTContent(results []models.SegmentResult) string {
	var srtLines []string
	cue := 0

	for _, res := range results {
		text := strings.TrimSpace(res.Text)
		if !res.Succeeded() || text == "" {
			continue
		}
		cue++

		srtLines = append(srtLines, fmt.Sprintf("%d", cue))
		srtLines = append(srtLines, fmt.Sprintf("%s --> %s", FormatSRTTime(res.Window.Start), FormatSRTTime(res.Window.End)))
		srtLines = append(srtLines, text)
		srtLines = append(srtLines, "") // 空行分隔
	}

	return strings.Join(srtLines, "\n")
}

// ExportRun 导出SRT格式字幕文件
func (e *SRTExporter) ExportRun(run *models.TranscriptionRun) (string, error) {
	if err := utils.EnsureDirExists(e.OutputFolder); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	outputFile := filepath.Join(e.OutputFolder, fmt.Sprintf("%s.srt", utils.SafeFilename(run.Source.Name, 100)))
	if err := os.WriteFile(outputFile, []byte(GenerateSRTContent(run.Results)), 0644); err != nil {
		return "", fmt.Errorf("写入SRT文件失败: %w", err)
	}

	utils.Info("已导出SRT字幕: %s", outputFile)
	return outputFile, nil
}
