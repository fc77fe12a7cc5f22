package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MediaKind 媒体类型
type MediaKind int

const (
	KindUnsupported MediaKind = iota
	KindAudio
	KindVideo
)

// MediaFile 表示一个媒体文件
type MediaFile struct {
	Path    string    // 文件路径
	Name    string    // 文件名
	Ext     string    // 文件扩展名
	Size    int64     // 文件大小（字节）
	ModTime time.Time // 修改时间
	Kind    MediaKind
}

// IsVideo 是否需要先抽取音轨
func (f MediaFile) IsVideo() bool { return f.Kind == KindVideo }

// MediaScanner 识别可转写的媒体文件
type MediaScanner struct {
	AudioExtensions []string
	VideoExtensions []string
}

// NewMediaScanner 创建新的媒体扫描器
func NewMediaScanner() *MediaScanner {
	return &MediaScanner{
		AudioExtensions: []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".opus", ".webm"},
		VideoExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv"},
	}
}

// Classify 根据扩展名判断媒体类型
func (s *MediaScanner) Classify(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.AudioExtensions {
		if ext == e {
			return KindAudio
		}
	}
	for _, e := range s.VideoExtensions {
		if ext == e {
			return KindVideo
		}
	}
	return KindUnsupported
}

// IsSupported 是否为支持的媒体文件
func (s *MediaScanner) IsSupported(path string) bool {
	return s.Classify(path) != KindUnsupported
}

// Extensions 返回全部支持的扩展名
func (s *MediaScanner) Extensions() []string {
	exts := make([]string, 0, len(s.AudioExtensions)+len(s.VideoExtensions))
	exts = append(exts, s.AudioExtensions...)
	return append(exts, s.VideoExtensions...)
}

// ScanDirectory 扫描目录中的媒体文件（非递归），按修改时间排序
func (s *MediaScanner) ScanDirectory(dir string) ([]MediaFile, error) {
	logrus.Infof("开始扫描目录: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var mediaFiles []MediaFile
	for _, entry := range entries {
		// 跳过目录和隐藏文件
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		kind := s.Classify(path)
		if kind == KindUnsupported {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logrus.Warnf("获取文件信息失败: %v", err)
			continue
		}

		mediaFiles = append(mediaFiles, MediaFile{
			Path:    path,
			Name:    entry.Name(),
			Ext:     strings.ToLower(filepath.Ext(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Kind:    kind,
		})
	}

	sort.Slice(mediaFiles, func(i, j int) bool {
		return mediaFiles[i].ModTime.Before(mediaFiles[j].ModTime)
	})

	logrus.Infof("扫描完成，共找到 %d 个媒体文件", len(mediaFiles))
	return mediaFiles, nil
}

// FilterNewFiles 根据已处理记录过滤出新文件
func (s *MediaScanner) FilterNewFiles(files []MediaFile, processedPaths map[string]bool) []MediaFile {
	var newFiles []MediaFile
	for _, file := range files {
		if !processedPaths[file.Path] {
			newFiles = append(newFiles, file)
		}
	}
	logrus.Debugf("过滤后剩余 %d 个新文件需要处理", len(newFiles))
	return newFiles
}
