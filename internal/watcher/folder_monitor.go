// Package watcher 监听文件夹，自动转写新放入的媒体文件
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccp-p/media-transcriber/pkg/scanner"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// FileEventHandler 是处理文件事件的接口
type FileEventHandler interface {
	OnFileCreated(filePath string)
	OnFileDeleted(filePath string)
}

// FolderMonitor 监控文件夹变化
// 同一文件在 debounceTime 内的多次写入只触发一次处理
type FolderMonitor struct {
	watcher        *fsnotify.Watcher
	folderPath     string
	fileExtensions []string
	handler        FileEventHandler
	debounceTime   time.Duration
	pendingFiles   map[string]*time.Timer
	mutex          sync.Mutex
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewFolderMonitor 创建新的文件夹监控器
func NewFolderMonitor(folderPath string, extensions []string, handler FileEventHandler, debounceTime time.Duration) (*FolderMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FolderMonitor{
		watcher:        watcher,
		folderPath:     folderPath,
		fileExtensions: extensions,
		handler:        handler,
		debounceTime:   debounceTime,
		pendingFiles:   make(map[string]*time.Timer),
		stopChan:       make(chan struct{}),
	}, nil
}

// Start 开始监控文件夹
func (m *FolderMonitor) Start() error {
	if err := os.MkdirAll(m.folderPath, 0755); err != nil {
		return fmt.Errorf("创建文件夹失败: %w", err)
	}

	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("添加监控文件夹失败: %w", err)
	}

	go m.watchLoop()

	utils.Info("开始监控文件夹: %s", m.folderPath)
	return nil
}

// Stop 停止监控，可重复调用
func (m *FolderMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()
		utils.Info("停止监控文件夹: %s", m.folderPath)

		// 取消所有待处理的文件定时器
		m.mutex.Lock()
		defer m.mutex.Unlock()
		for path, timer := range m.pendingFiles {
			timer.Stop()
			delete(m.pendingFiles, path)
		}
	})
}

// watchLoop 监控循环
func (m *FolderMonitor) watchLoop() {
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			utils.Error("监控文件夹时出错: %v", err)
		}
	}
}

// 处理文件事件
func (m *FolderMonitor) handleFileEvent(event fsnotify.Event) {
	filePath := event.Name

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.cancelPending(filePath)
		if m.handler != nil && m.hasTargetExtension(filePath) {
			m.handler.OnFileDeleted(filePath)
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !m.isTargetFile(filePath) {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	select {
	case <-m.stopChan:
		return
	default:
	}

	// 文件仍在写入时重新计时
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
	}
	m.pendingFiles[filePath] = time.AfterFunc(m.debounceTime, func() {
		m.processFile(filePath)
	})

	utils.Debug("检测到文件变化: %s", filePath)
}

func (m *FolderMonitor) cancelPending(filePath string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
		delete(m.pendingFiles, filePath)
	}
}

func (m *FolderMonitor) hasTargetExtension(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, targetExt := range m.fileExtensions {
		if ext == targetExt {
			return true
		}
	}
	return false
}

// 判断是否为目标文件类型
func (m *FolderMonitor) isTargetFile(filePath string) bool {
	fileInfo, err := os.Stat(filePath)
	if err != nil || fileInfo.IsDir() {
		return false
	}
	return m.hasTargetExtension(filePath)
}

// 处理文件
func (m *FolderMonitor) processFile(filePath string) {
	m.mutex.Lock()
	delete(m.pendingFiles, filePath)
	m.mutex.Unlock()

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return
	}

	utils.Info("准备处理文件: %s", filePath)
	if m.handler != nil {
		m.handler.OnFileCreated(filePath)
	}
}

// FileProcessor 转写单个文件
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) error
}

// TranscribeHandler 转写新文件，成功后可归档
// 文件依次处理，同一路径只处理一次，删除后可重新处理
type TranscribeHandler struct {
	ctx           context.Context
	processor     FileProcessor
	archiveFolder string

	mutex          sync.Mutex
	processedFiles map[string]bool
	running        sync.Mutex
}

// NewTranscribeHandler 创建转写处理器，archiveFolder 为空时不移动文件
func NewTranscribeHandler(ctx context.Context, processor FileProcessor, archiveFolder string) *TranscribeHandler {
	if archiveFolder != "" {
		if err := os.MkdirAll(archiveFolder, 0755); err != nil {
			utils.Warn("创建归档目录失败 %s: %v", archiveFolder, err)
		}
	}
	return &TranscribeHandler{
		ctx:            ctx,
		processor:      processor,
		archiveFolder:  archiveFolder,
		processedFiles: make(map[string]bool),
	}
}

// OnFileCreated 处理文件创建事件
func (h *TranscribeHandler) OnFileCreated(filePath string) {
	h.mutex.Lock()
	if h.processedFiles[filePath] {
		h.mutex.Unlock()
		return
	}
	h.processedFiles[filePath] = true
	h.mutex.Unlock()

	h.running.Lock()
	defer h.running.Unlock()

	if h.ctx.Err() != nil {
		return
	}

	if err := h.processor.ProcessFile(h.ctx, filePath); err != nil {
		utils.Error("处理文件失败 %s: %v", filepath.Base(filePath), err)
		return
	}

	if h.archiveFolder != "" {
		if _, err := moveFile(filePath, h.archiveFolder); err != nil {
			utils.Error("归档文件失败: %v", err)
		}
	}
}

// OnFileDeleted 处理文件删除事件
func (h *TranscribeHandler) OnFileDeleted(filePath string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.processedFiles, filePath)
}

// moveFile 将文件移动到目标文件夹，重名时追加时间戳
func moveFile(sourcePath, targetFolder string) (string, error) {
	filename := filepath.Base(sourcePath)
	targetPath := filepath.Join(targetFolder, filename)

	if _, err := os.Stat(targetPath); err == nil {
		ext := filepath.Ext(filename)
		name := filename[:len(filename)-len(ext)]
		timestamp := time.Now().Format("20060102150405")
		targetPath = filepath.Join(targetFolder, fmt.Sprintf("%s_%s%s", name, timestamp, ext))
	}

	if err := os.Rename(sourcePath, targetPath); err != nil {
		return "", fmt.Errorf("移动文件失败 %s -> %s: %w", sourcePath, targetPath, err)
	}

	utils.Info("文件已移动: %s -> %s", sourcePath, targetPath)
	return targetPath, nil
}

// StartWatching 监控 folder 并转写新文件，返回停止函数
func StartWatching(ctx context.Context, folder, archiveFolder string, processor FileProcessor, debounce time.Duration) (func(), error) {
	handler := NewTranscribeHandler(ctx, processor, archiveFolder)

	monitor, err := NewFolderMonitor(folder, scanner.NewMediaScanner().Extensions(), handler, debounce)
	if err != nil {
		return nil, err
	}
	if err := monitor.Start(); err != nil {
		monitor.Stop()
		return nil, err
	}
	return monitor.Stop, nil
}
