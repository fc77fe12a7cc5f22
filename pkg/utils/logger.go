package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// 日志级别常量
const (
	LogLevelVerbose = "VERBOSE"
	LogLevelNormal  = "INFO"
	LogLevelQuiet   = "WARN"
	LogLevelError   = "ERROR"
)

// defaultLogName 进度条模式下的默认日志文件名
const defaultLogName = "media-transcriber.log"

var (
	// Log 全局日志实例，未初始化时输出到标准错误
	Log = newDefaultLogger()

	logMu sync.Mutex
	// 当前日志配置，EnableTerminalProgress 需要复用
	currentLevel   = LogLevelNormal
	currentLogFile string
	logFileHandle  *os.File
	// 是否启用了终端进度条
	terminalProgressEnabled bool
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// InitLogger 初始化日志系统
// level: 日志级别 (VERBOSE/INFO/WARN/ERROR，也接受 logrus 级别名)
// logFile: 日志文件路径，空字符串表示仅输出到控制台
func InitLogger(level string, logFile string) error {
	logMu.Lock()
	defer logMu.Unlock()

	currentLevel = level
	currentLogFile = logFile

	out, err := openLogOutput(logFile)
	if err != nil {
		return err
	}

	Log.SetOutput(out)
	Log.SetLevel(parseLevel(level))
	return nil
}

func openLogOutput(logFile string) (io.Writer, error) {
	if logFileHandle != nil {
		logFileHandle.Close()
		logFileHandle = nil
	}

	if terminalProgressEnabled {
		// 进度条占用终端，日志只写文件
		if logFile == "" {
			logFile = filepath.Join(os.TempDir(), defaultLogName)
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return io.Discard, nil
		}
		logFileHandle = file
		return file, nil
	}

	if logFile == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	logFileHandle = file
	// 同时输出到文件和控制台
	return io.MultiWriter(os.Stdout, file), nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case LogLevelVerbose, "DEBUG":
		return logrus.DebugLevel
	case LogLevelNormal:
		return logrus.InfoLevel
	case LogLevelQuiet, "WARNING":
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	}
	if l, err := logrus.ParseLevel(level); err == nil {
		return l
	}
	return logrus.InfoLevel
}

// EnableTerminalProgress 启用终端进度条模式，之后日志不再输出到终端
func EnableTerminalProgress() {
	logMu.Lock()
	terminalProgressEnabled = true
	level, file := currentLevel, currentLogFile
	logMu.Unlock()
	InitLogger(level, file)
}

// DisableTerminalProgress 禁用终端进度条模式，恢复终端输出
func DisableTerminalProgress() {
	logMu.Lock()
	wasEnabled := terminalProgressEnabled
	terminalProgressEnabled = false
	level, file := currentLevel, currentLogFile
	logMu.Unlock()
	if wasEnabled {
		InitLogger(level, file)
	}
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	if len(args) > 0 {
		Log.Debugf(format, args...)
	} else {
		Log.Debug(format)
	}
}

// Info 输出信息日志
func Info(format string, args ...interface{}) {
	if len(args) > 0 {
		Log.Infof(format, args...)
	} else {
		Log.Info(format)
	}
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	if len(args) > 0 {
		Log.Warnf(format, args...)
	} else {
		Log.Warn(format)
	}
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	if len(args) > 0 {
		Log.Errorf(format, args...)
	} else {
		Log.Error(format)
	}
}

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

// WithFields 创建带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

// ForRun 返回带运行 ID 的日志条目
func ForRun(runID string) *logrus.Entry {
	return Log.WithField("run", runID)
}
