// Package transcript 合并片段转写结果并做整理、摘要
package transcript

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// DefaultDelimiter 片段之间的分隔
const DefaultDelimiter = "\n\n"

// Consolidator 按索引顺序拼接片段文本
type Consolidator struct {
	Delimiter string
	// BestEffort 为 true 时失败片段用占位行代替，否则整体失败
	BestEffort bool
}

// NewConsolidator 创建合并器
func NewConsolidator(bestEffort bool) *Consolidator {
	return &Consolidator{Delimiter: DefaultDelimiter, BestEffort: bestEffort}
}

// Consolidate 合并全部片段结果
// results 必须恰好覆盖索引 0..n-1，顺序不限
func (c *Consolidator) Consolidate(src models.AudioSource, results []models.SegmentResult) (string, error) {
	if len(results) == 0 {
		return "", &models.ProcessingError{Reason: "没有任何片段结果"}
	}

	sorted := make([]models.SegmentResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for i, res := range sorted {
		if res.Index != i {
			return "", &models.ProcessingError{
				Reason: fmt.Sprintf("片段索引不连续: 位置 %d 对应索引 %d，共 %d 个结果", i, res.Index, len(sorted)),
			}
		}
	}

	var failed []models.FailedSegment
	for _, res := range sorted {
		if !res.Succeeded() {
			failed = append(failed, models.FailedSegment{Index: res.Index, Window: res.Window, Err: res.Err})
		}
	}
	if len(failed) > 0 && !c.BestEffort {
		return "", models.NewProcessingError(failed)
	}
	if len(failed) > 0 {
		utils.Warn("%s: %d/%d 个片段转写失败，输出中以占位行代替", src.Name, len(failed), len(sorted))
	}

	delimiter := c.Delimiter
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}

	parts := make([]string, 0, len(sorted))
	for _, res := range sorted {
		if !res.Succeeded() {
			parts = append(parts, FailureMarker(res.Window))
			continue
		}
		text := strings.TrimSpace(res.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, delimiter), nil
}

// FailureMarker 失败片段的占位行
func FailureMarker(w models.SegmentWindow) string {
	return fmt.Sprintf("[转写失败: %s - %s]", models.FormatTimestamp(w.Start), models.FormatTimestamp(w.End))
}

// ResultsInOrder 把调度结果按索引展开为切片
func ResultsInOrder(results map[int]models.SegmentResult) []models.SegmentResult {
	ordered := make([]models.SegmentResult, 0, len(results))
	for _, r := range results {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return ordered
}
