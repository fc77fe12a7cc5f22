package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Prober 读取媒体文件的元数据
type Prober interface {
	Probe(ctx context.Context, path string) (*models.AudioSource, error)
}

// CommandRunner 执行外部命令并返回标准输出
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFprobe 基于 ffprobe 的元数据读取
type FFprobe struct {
	Binary string
	run    CommandRunner
}

// NewFFprobe 创建 ffprobe 读取器
func NewFFprobe() *FFprobe {
	return &FFprobe{Binary: "ffprobe", run: utils.RunCommand}
}

type probeOutput struct {
	Streams []struct {
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe 获取音频时长、采样率等信息
func (p *FFprobe) Probe(ctx context.Context, path string) (*models.AudioSource, error) {
	out, err := p.run(ctx, p.Binary,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=duration,size,bit_rate,format_name:stream=sample_rate,channels",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("获取媒体信息失败: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("无法解析媒体信息: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil {
		return nil, fmt.Errorf("无法解析音频时长 %q: %w", parsed.Format.Duration, err)
	}

	src := &models.AudioSource{
		Path:      path,
		Name:      utils.BaseName(path),
		Format:    strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Duration:  duration,
		InputType: models.InputFile,
		Origin:    path,
	}

	if len(parsed.Streams) > 0 {
		src.SampleRate, _ = strconv.Atoi(parsed.Streams[0].SampleRate)
		src.Channels = parsed.Streams[0].Channels
	}
	// 比特率可能是 N/A
	if br, err := strconv.Atoi(parsed.Format.BitRate); err == nil {
		src.Bitrate = br / 1000
	}
	if size, err := strconv.ParseInt(parsed.Format.Size, 10, 64); err == nil {
		src.Size = size
	} else if info, err := os.Stat(path); err == nil {
		src.Size = info.Size()
	}

	return src, nil
}
