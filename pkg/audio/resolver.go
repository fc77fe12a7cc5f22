package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/scanner"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Resolver 把用户输入（本地文件或 YouTube 链接）解析为 AudioSource
type Resolver struct {
	Scanner    *scanner.MediaScanner
	Prober     Prober
	Converter  *AudioExtractor
	Downloader Downloader
	// WorkDir 存放下载文件和视频抽取的音轨
	WorkDir string
}

// NewResolver 使用默认的 ffprobe、ffmpeg 和 yt-dlp 创建解析器
func NewResolver(workDir string) *Resolver {
	return &Resolver{
		Scanner:    scanner.NewMediaScanner(),
		Prober:     NewFFprobe(),
		Converter:  NewAudioExtractor(workDir),
		Downloader: NewYtDlpDownloader(),
		WorkDir:    workDir,
	}
}

// Resolve 解析输入并读取音频元数据
func (r *Resolver) Resolve(ctx context.Context, input string) (models.AudioSource, error) {
	if IsYouTubeURL(input) {
		return r.resolveYouTube(ctx, input)
	}
	return r.resolveFile(ctx, input)
}

func (r *Resolver) resolveFile(ctx context.Context, path string) (models.AudioSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.AudioSource{}, models.NewInvalidInputError("文件不存在: %s", path)
		}
		return models.AudioSource{}, fmt.Errorf("读取文件失败: %w", err)
	}
	if info.IsDir() {
		return models.AudioSource{}, models.NewInvalidInputError("输入是目录: %s", path)
	}
	if info.Size() == 0 {
		return models.AudioSource{}, models.NewInvalidInputError("文件为空: %s", path)
	}

	audioPath := path
	switch r.Scanner.Classify(path) {
	case scanner.KindUnsupported:
		return models.AudioSource{}, models.NewInvalidInputError("不支持的文件格式: %s", filepath.Ext(path))
	case scanner.KindVideo:
		audioPath, err = r.Converter.ExtractAudioFromVideo(ctx, path, r.WorkDir)
		if err != nil {
			return models.AudioSource{}, err
		}
	}

	src, err := r.probe(ctx, audioPath)
	if err != nil {
		return models.AudioSource{}, err
	}
	src.Name = utils.SafeFilename(utils.BaseName(path), 100)
	src.Origin = path
	src.InputType = models.InputFile
	return src, nil
}

func (r *Resolver) resolveYouTube(ctx context.Context, rawURL string) (models.AudioSource, error) {
	if r.Downloader == nil {
		return models.AudioSource{}, models.NewInvalidInputError("未配置下载器，无法处理链接")
	}
	media, err := r.Downloader.Download(ctx, rawURL, r.WorkDir)
	if err != nil {
		return models.AudioSource{}, err
	}

	src, err := r.probe(ctx, media.Path)
	if err != nil {
		return models.AudioSource{}, err
	}
	src.Name = MediaBaseName(media.Title, media.Uploader)
	src.Origin = rawURL
	src.InputType = models.InputYouTube
	return src, nil
}

func (r *Resolver) probe(ctx context.Context, path string) (models.AudioSource, error) {
	src, err := r.Prober.Probe(ctx, path)
	if err != nil {
		return models.AudioSource{}, err
	}
	if src.Duration <= 0 {
		return models.AudioSource{}, models.NewInvalidInputError("无法获取有效的音频时长: %s", path)
	}
	utils.Info("音频: %s, 时长 %s, 大小 %s", filepath.Base(path),
		utils.FormatTimeDuration(src.Duration), utils.FormatFileSize(src.Size))
	return *src, nil
}
