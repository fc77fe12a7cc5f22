package utils

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c_d", SafeFilename(`a<b>c:d`, 0))
	assert.Equal(t, "live_ 2024_05", SafeFilename(" live/ 2024|05 ", 0))
	assert.Equal(t, "会议记录", SafeFilename("会议记录第一部分", 4))
	assert.Equal(t, "untitled", SafeFilename("  ", 10))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "meeting", BaseName(filepath.Join("a", "b", "meeting.mp3")))
	assert.Equal(t, "archive.tar", BaseName("archive.tar.gz"))
}

func TestSaveJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, SaveJSONFile(path, map[string]int{"a": 1}))
	assert.True(t, CheckFileExists(path))
	assert.True(t, CheckDirExists(filepath.Dir(path)))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "1h 2m 5s", FormatTimeDuration(3725))
	assert.Equal(t, "3m 0s", FormatTimeDuration(180))
	assert.Equal(t, "1时2分5秒", FormatChineseTimeDuration(3725))
	assert.Equal(t, "01:05", FormatDurationCompact(65*time.Second))
	assert.Equal(t, "1:00:01", FormatDurationCompact(3601*time.Second))
	assert.Equal(t, "1.50 MB", FormatFileSize(1536*1024))
	assert.Equal(t, "12 B", FormatFileSize(12))
}
