package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// DownloadedMedia 下载得到的音频
type DownloadedMedia struct {
	Path     string
	Title    string
	Uploader string
	Duration float64
}

// Downloader 把远程媒体下载为本地音频
type Downloader interface {
	Download(ctx context.Context, rawURL, dir string) (*DownloadedMedia, error)
}

// YtDlpDownloader 使用 yt-dlp 下载音频
type YtDlpDownloader struct {
	Binary string
	run    CommandRunner
}

// NewYtDlpDownloader 创建 yt-dlp 下载器
func NewYtDlpDownloader() *YtDlpDownloader {
	return &YtDlpDownloader{Binary: "yt-dlp", run: utils.RunCommand}
}

type ytDlpInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

// Download 下载单个视频的音轨为 mp3
func (d *YtDlpDownloader) Download(ctx context.Context, rawURL, dir string) (*DownloadedMedia, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建下载目录失败: %w", err)
	}

	utils.Info("开始下载: %s", rawURL)
	out, err := d.run(ctx, d.Binary,
		"--no-playlist",
		"--no-progress",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "5",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"--print-json",
		"--no-simulate",
		rawURL,
	)
	if err != nil {
		return nil, fmt.Errorf("下载失败: %w", err)
	}

	var info ytDlpInfo
	// yt-dlp 的输出中最后一行是 JSON
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &info); err != nil {
		return nil, fmt.Errorf("解析下载信息失败: %w", err)
	}

	path := filepath.Join(dir, info.ID+".mp3")
	if !utils.CheckFileExists(path) {
		return nil, fmt.Errorf("下载的音频文件不存在: %s", path)
	}

	return &DownloadedMedia{
		Path:     path,
		Title:    info.Title,
		Uploader: info.Uploader,
		Duration: info.Duration,
	}, nil
}

// IsYouTubeURL 判断输入是否为 YouTube 链接
func IsYouTubeURL(input string) bool {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "music.youtube.com":
		return u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/live/")
	case "youtu.be":
		return len(strings.Trim(u.Path, "/")) > 0
	}
	return false
}

// MediaBaseName 由标题和上传者生成输出文件基础名
func MediaBaseName(title, uploader string) string {
	if strings.TrimSpace(uploader) != "" {
		return utils.SafeFilename(uploader, 30) + "_" + utils.SafeFilename(title, 50)
	}
	return utils.SafeFilename(title, 60)
}
