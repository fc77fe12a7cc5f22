package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("401 Unauthorized")
	err := fmt.Errorf("调用失败: %w", NewAuthError("认证失败", cause))

	assert.True(t, IsAuthError(err))
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsTransientError(err))

	assert.True(t, IsFatal(NewQuotaExceededError("配额耗尽", nil)))
	assert.False(t, IsFatal(NewTransientError("重试耗尽", nil)))
	assert.True(t, IsCancelledError(NewCancelledError(context.Canceled)))
	assert.ErrorIs(t, NewCancelledError(context.Canceled), context.Canceled)
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestProcessingErrorListsFailedSegments(t *testing.T) {
	failed := []FailedSegment{
		{Index: 2, Window: SegmentWindow{Index: 2, Start: 3600, End: 5400}},
		{Index: 0, Window: SegmentWindow{Index: 0, Start: 0, End: 1800}},
	}
	err := NewProcessingError(failed)

	assert.Equal(t, []int{0, 2}, err.FailedIndices())
	assert.Contains(t, err.Error(), "#0 [00:00:00-00:30:00]")
	assert.Contains(t, err.Error(), "#2 [01:00:00-01:30:00]")
	assert.Equal(t, KindProcessing, KindOf(WithStage(StageConsolidate, err)))
}

func TestStageError(t *testing.T) {
	assert.Nil(t, WithStage(StageFormat, nil))

	err := WithStage(StageSummarize, NewTransientError("重试耗尽", nil))
	assert.Equal(t, StageSummarize, StageOf(err))
	assert.True(t, IsTransientError(err))
	assert.Contains(t, err.Error(), "summarize")
}

func TestSegmentUnitRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment_000.mp3")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	unit := &SegmentUnit{Path: path, Owned: true}
	require.NoError(t, unit.Release())
	require.NoError(t, unit.Release())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// 非独占的文件不删除
	src := filepath.Join(t.TempDir(), "source.mp3")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	shared := &SegmentUnit{Path: src}
	require.NoError(t, shared.Release())
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestWindowString(t *testing.T) {
	w := SegmentWindow{Index: 1, Start: 1800, End: 3725.5}
	assert.Equal(t, "#1 [00:30:00-01:02:05]", w.String())
	assert.InDelta(t, 1925.5, w.Duration(), 1e-9)
}
