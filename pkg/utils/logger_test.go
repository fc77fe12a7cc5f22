package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	err := InitLogger(LogLevelNormal, "")
	assert.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	err = InitLogger(LogLevelVerbose, logFile)
	assert.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())

	_, err = os.Stat(logFile)
	assert.NoError(t, err)

	InitLogger(LogLevelNormal, "")
}

func TestLogLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "level_test.log")
	require.NoError(t, InitLogger(LogLevelQuiet, logFile))

	Debug("debug message")
	Info("info message")
	Warn("warning %s", "message")
	Error("error message")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	content := string(data)
	assert.False(t, strings.Contains(content, "info message"))
	assert.True(t, strings.Contains(content, "warning message"))
	assert.True(t, strings.Contains(content, "error message"))

	InitLogger(LogLevelNormal, "")
}

func TestTerminalProgressRedirectsLogs(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "progress.log")
	require.NoError(t, InitLogger(LogLevelNormal, logFile))

	EnableTerminalProgress()
	Info("hidden from terminal")
	DisableTerminalProgress()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hidden from terminal")

	InitLogger(LogLevelNormal, "")
}

func TestWithFieldLogging(t *testing.T) {
	require.NoError(t, InitLogger(LogLevelNormal, ""))

	WithField("key", "value").Info("Test with field")
	WithFields(logrus.Fields{
		"key1": "value1",
		"key2": "value2",
	}).Info("Test with fields")
	ForRun("run-1").Info("Test run entry")
}
