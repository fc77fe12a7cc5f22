package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Extractor 从音频源中切出一个时间窗口
// 返回的 SegmentUnit 由调用方负责 Release
type Extractor interface {
	Extract(ctx context.Context, src models.AudioSource, window models.SegmentWindow) (*models.SegmentUnit, error)
}

// 模型可直接接收的格式，整段音频无需转码
var passthroughFormats = map[string]bool{
	"mp3": true, "wav": true, "flac": true, "aac": true, "ogg": true, "aiff": true,
}

// AudioExtractor 使用 ffmpeg 切分音频
type AudioExtractor struct {
	TempSegmentsDir string
	Binary          string
	SampleRate      int
	Bitrate         string

	run CommandRunner
}

// NewAudioExtractor 创建新的音频提取器，片段写入 tempSegmentsDir
func NewAudioExtractor(tempSegmentsDir string) *AudioExtractor {
	return &AudioExtractor{
		TempSegmentsDir: tempSegmentsDir,
		Binary:          "ffmpeg",
		SampleRate:      16000,
		Bitrate:         "64k",
		run:             utils.RunCommand,
	}
}

// Extract 导出窗口对应的单声道 mp3 片段
// 窗口覆盖整个音频时直接使用源文件，不做切分
func (e *AudioExtractor) Extract(ctx context.Context, src models.AudioSource, window models.SegmentWindow) (*models.SegmentUnit, error) {
	if window.Start <= 0 && window.End >= src.Duration && passthroughFormats[src.Format] {
		utils.Debug("片段 %s 覆盖整个音频，直接使用源文件", window)
		return &models.SegmentUnit{Window: window, Path: src.Path, Owned: false}, nil
	}

	if err := os.MkdirAll(e.TempSegmentsDir, 0755); err != nil {
		return nil, models.NewExtractionError("创建片段目录失败", err)
	}

	outputPath := filepath.Join(e.TempSegmentsDir, fmt.Sprintf("segment_%03d.mp3", window.Index))
	unit := &models.SegmentUnit{Window: window, Path: outputPath, Owned: true}

	_, err := e.run(ctx, e.Binary,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(window.Start),
		"-t", formatSeconds(window.Duration()),
		"-i", src.Path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(e.SampleRate),
		"-c:a", "libmp3lame",
		"-b:a", e.Bitrate,
		outputPath,
	)
	if err != nil {
		unit.Release()
		return nil, models.NewExtractionError(fmt.Sprintf("片段 %s 导出失败", window), err)
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		unit.Release()
		return nil, models.NewExtractionError(fmt.Sprintf("片段 %s 导出文件为空", window), err)
	}

	utils.Debug("导出片段完成: %s (%s)", filepath.Base(outputPath), utils.FormatFileSize(info.Size()))
	return unit, nil
}

// ExtractAudioFromVideo 从视频文件提取音轨到 outputFolder，返回音频路径
func (e *AudioExtractor) ExtractAudioFromVideo(ctx context.Context, videoPath, outputFolder string) (string, error) {
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}
	audioPath := filepath.Join(outputFolder, utils.BaseName(videoPath)+".mp3")

	utils.Info("正在从视频提取音频: %s", filepath.Base(videoPath))
	_, err := e.run(ctx, e.Binary,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-q:a", "2",
		"-map", "a",
		audioPath,
	)
	if err != nil {
		return "", fmt.Errorf("音频提取失败: %w", err)
	}

	if !utils.CheckFileExists(audioPath) {
		return "", fmt.Errorf("提取的音频文件不存在: %s", audioPath)
	}

	utils.Info("音频提取成功: %s", audioPath)
	return audioPath, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
