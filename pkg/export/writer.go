package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Artifact 输出文件类型
type Artifact string

const (
	ArtifactRaw       Artifact = "raw"
	ArtifactFormatted Artifact = "formatted"
	ArtifactSummary   Artifact = "summary"
)

// Artifacts 固定的写出顺序
var Artifacts = []Artifact{ArtifactRaw, ArtifactFormatted, ArtifactSummary}

// OutputWriter 保存转写产物，返回每个产物的路径
type OutputWriter interface {
	WriteArtifacts(baseName string, artifacts map[Artifact]string) (map[Artifact]string, error)
}

// RunExporter 导出运行的附加格式（JSON、SRT 等）
type RunExporter interface {
	ExportRun(run *models.TranscriptionRun) (string, error)
}

// FileWriter 把产物写成 <name>_<artifact>.txt
type FileWriter struct {
	OutputFolder string
}

// NewFileWriter 创建文本写出器
func NewFileWriter(outputFolder string) *FileWriter {
	return &FileWriter{OutputFolder: outputFolder}
}

// ArtifactPath 返回产物路径
func (w *FileWriter) ArtifactPath(baseName string, a Artifact) string {
	return filepath.Join(w.OutputFolder, fmt.Sprintf("%s_%s.txt", utils.SafeFilename(baseName, 100), a))
}

// WriteArtifacts 写出非空的产物
func (w *FileWriter) WriteArtifacts(baseName string, artifacts map[Artifact]string) (map[Artifact]string, error) {
	if err := utils.EnsureDirExists(w.OutputFolder); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	paths := make(map[Artifact]string, len(artifacts))
	for _, a := range Artifacts {
		content, ok := artifacts[a]
		if !ok || content == "" {
			continue
		}
		path := w.ArtifactPath(baseName, a)
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			return paths, fmt.Errorf("写入 %s 失败: %w", path, err)
		}
		utils.Info("已保存%s: %s", artifactLabel(a), path)
		paths[a] = path
	}
	return paths, nil
}

func artifactLabel(a Artifact) string {
	switch a {
	case ArtifactRaw:
		return "原始转写"
	case ArtifactFormatted:
		return "整理文本"
	case ArtifactSummary:
		return "摘要"
	}
	return string(a)
}

// writeFileAtomic 先写临时文件再重命名，避免留下半截文件
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
