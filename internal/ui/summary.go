package ui

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// JPYPerUSD 费用换算汇率
const JPYPerUSD = 150.0

// PrintRunSummary 打印一次运行的统计
func PrintRunSummary(w io.Writer, run *models.TranscriptionRun) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgWhite)
	value := color.New(color.FgGreen)

	line := func(name, format string, args ...interface{}) {
		label.Fprintf(w, "  %-10s", name)
		value.Fprintf(w, format+"\n", args...)
	}

	title.Fprintln(w, "\n===== 转写统计 =====")
	line("文件", "%s", run.Source.Name)
	line("音频时长", "%s", utils.FormatChineseTimeDuration(run.Source.Duration))
	line("处理耗时", "%s", utils.FormatDurationCompact(run.Elapsed()))
	line("处理速度", "%.1fx", run.SpeedRatio())

	succeeded, failed := run.SegmentCounts()
	if failed > 0 {
		line("片段", "%d 个 (成功 %d)", len(run.Results), succeeded)
		label.Fprintf(w, "  %-10s", "失败")
		color.New(color.FgRed).Fprintf(w, "%d 个\n", failed)
	} else {
		line("片段", "%d 个全部成功", succeeded)
	}

	usage := run.Usage
	if usage.Total.Calls > 0 {
		line("模型", "%s", usage.Model)
		line("调用", "%d 次 (尝试 %d 次)", usage.Total.Calls, usage.Total.Attempts)
		line("Token", "输入 %d / 音频 %d / 输出 %d",
			usage.Total.InputTokens, usage.Total.AudioTokens, usage.Total.OutputTokens)
		line("预估费用", "$%.4f (约 %.1f 日元)", usage.Total.Cost, usage.Total.Cost*JPYPerUSD)
	}

	if len(run.Outputs) > 0 {
		title.Fprintln(w, "输出文件:")
		keys := make([]string, 0, len(run.Outputs))
		for k := range run.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  - %s: %s\n", k, run.Outputs[k])
		}
	}
}
