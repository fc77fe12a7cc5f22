package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccp-p/media-transcriber/internal/controller"
	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/pipeline"
	"github.com/ccp-p/media-transcriber/pkg/transcript"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

var transcribeFlags struct {
	outputDir     string
	formatOnly    bool
	summarizeOnly bool
	bestEffort    bool
	concurrency   int
	maxSegment    float64
	noProgress    bool
	exportJSON    bool
	exportSRT     bool
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <文件|目录|YouTube链接>...",
	Short: "转写音视频文件、目录或 YouTube 链接",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTranscribe,
}

func init() {
	f := transcribeCmd.Flags()
	f.StringVarP(&transcribeFlags.outputDir, "output-dir", "o", "", "输出目录")
	f.BoolVar(&transcribeFlags.formatOnly, "format-only", false, "只整理格式，不生成摘要")
	f.BoolVar(&transcribeFlags.summarizeOnly, "summarize-only", false, "只生成摘要，不整理格式")
	f.BoolVar(&transcribeFlags.bestEffort, "best-effort", false, "部分片段失败时仍然输出结果")
	f.IntVarP(&transcribeFlags.concurrency, "concurrency", "c", 0, "并发转写的片段数")
	f.Float64Var(&transcribeFlags.maxSegment, "max-segment", 0, "单个片段最大时长（秒）")
	f.BoolVar(&transcribeFlags.noProgress, "no-progress", false, "不显示进度条")
	f.BoolVar(&transcribeFlags.exportJSON, "json", false, "同时导出运行记录 JSON")
	f.BoolVar(&transcribeFlags.exportSRT, "srt", false, "同时导出 SRT 字幕")
	transcribeCmd.MarkFlagsMutuallyExclusive("format-only", "summarize-only")

	rootCmd.AddCommand(transcribeCmd)
}

// applyTranscribeFlags 命令行参数覆盖配置
func applyTranscribeFlags(c *models.Config) transcript.Mode {
	if transcribeFlags.outputDir != "" {
		c.OutputFolder = transcribeFlags.outputDir
	}
	if transcribeFlags.bestEffort {
		c.BestEffort = true
	}
	if transcribeFlags.concurrency > 0 {
		c.MaxWorkers = transcribeFlags.concurrency
	}
	if transcribeFlags.maxSegment > 0 {
		c.MaxSegmentDuration = transcribeFlags.maxSegment
	}
	if transcribeFlags.noProgress {
		c.ShowProgress = false
	}
	if transcribeFlags.exportJSON {
		c.ExportJSON = true
	}
	if transcribeFlags.exportSRT {
		c.ExportSRT = true
	}

	switch {
	case transcribeFlags.formatOnly:
		return transcript.ModeFormatOnly
	case transcribeFlags.summarizeOnly:
		return transcript.ModeSummarizeOnly
	}
	return transcript.ModeAll
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	mode := applyTranscribeFlags(cfg)
	if !utils.CheckFFmpeg() {
		return errors.New("未找到 ffmpeg 或 ffprobe，请先安装并加入 PATH")
	}

	pc, err := controller.NewProcessorController(cfg, controller.Options{Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer pc.Cleanup()

	opts := pipeline.RunOptions{Mode: mode}
	var failed int
	for _, input := range args {
		if pc.Context().Err() != nil {
			break
		}
		if info, statErr := os.Stat(input); statErr == nil && info.IsDir() && !audio.IsYouTubeURL(input) {
			_, err = pc.ProcessDirectory(input, opts)
		} else {
			_, err = pc.ProcessInput(input, opts)
		}
		if err != nil {
			failed++
			if models.IsFatal(err) {
				break
			}
		}
	}
	pc.PrintStats()

	if pc.Context().Err() != nil {
		return models.NewCancelledError(pc.Context().Err())
	}
	if failed > 0 {
		return fmt.Errorf("%d 个输入处理失败", failed)
	}
	return nil
}
