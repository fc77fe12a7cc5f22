package controller

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/pipeline"
)

func init() {
	color.NoColor = true
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, input string) (models.AudioSource, error) {
	args := m.Called(ctx, input)
	if fn, ok := args.Get(0).(func(context.Context, string) models.AudioSource); ok {
		return fn(ctx, input), args.Error(1)
	}
	return args.Get(0).(models.AudioSource), args.Error(1)
}

type providerFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

func (f providerFunc) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

type copyExtractor struct {
	dir string
}

func (e copyExtractor) Extract(ctx context.Context, src models.AudioSource, w models.SegmentWindow) (*models.SegmentUnit, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("segment_%03d.mp3", w.Index))
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return nil, err
	}
	return &models.SegmentUnit{Window: w, Path: path, Owned: true}, nil
}

func okProvider() providerFunc {
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "内容", Usage: llm.Usage{PromptTokens: 10, OutputTokens: 5}}, nil
	}
}

func testConfig(t *testing.T) *models.Config {
	root := t.TempDir()
	cfg := models.NewDefaultConfig()
	cfg.OutputFolder = filepath.Join(root, "output")
	cfg.TempDir = filepath.Join(root, "temp")
	cfg.ShowProgress = false
	cfg.MaxSegmentDuration = 60
	return cfg
}

func newTestController(t *testing.T, cfg *models.Config, provider providerFunc, resolver InputResolver) (*ProcessorController, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	pc, err := NewProcessorController(cfg, Options{
		Provider:   provider,
		Resolver:   resolver,
		Extractors: func(dir string) audio.Extractor { return copyExtractor{dir: dir} },
		Out:        &out,
		NoSignals:  true,
	})
	require.NoError(t, err)
	t.Cleanup(pc.Cleanup)
	return pc, &out
}

func TestProcessInput(t *testing.T) {
	cfg := testConfig(t)
	resolver := new(mockResolver)
	resolver.On("Resolve", mock.Anything, "/media/talk.mp3").
		Return(models.AudioSource{Path: "/media/talk.mp3", Name: "talk", Duration: 100}, nil)

	pc, out := newTestController(t, cfg, okProvider(), resolver)
	run, err := pc.ProcessInput("/media/talk.mp3", pipeline.RunOptions{})
	require.NoError(t, err)

	assert.Len(t, run.Results, 2)
	assert.FileExists(t, filepath.Join(cfg.OutputFolder, "talk_raw.txt"))
	assert.Contains(t, out.String(), "转写统计")
	assert.Equal(t, 1, pc.Stats.SuccessfulFiles)
	assert.Greater(t, pc.Stats.TotalCost, 0.0)
}

func TestProcessInputResolveFailure(t *testing.T) {
	resolver := new(mockResolver)
	resolver.On("Resolve", mock.Anything, "missing.mp3").
		Return(models.AudioSource{}, models.NewInvalidInputError("文件不存在: missing.mp3"))

	pc, _ := newTestController(t, testConfig(t), okProvider(), resolver)
	_, err := pc.ProcessInput("missing.mp3", pipeline.RunOptions{})

	assert.Equal(t, models.StageResolve, models.StageOf(err))
	assert.True(t, models.IsInvalidInputError(err))
	assert.Equal(t, 1, pc.Stats.FailedFiles)
}

func TestProcessDirectoryStopsOnFatalError(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp3", "c.wav"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	resolver := new(mockResolver)
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(models.AudioSource{Name: "x", Duration: 30}, nil)

	provider := providerFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, &llm.APIError{StatusCode: 401, Message: "unauthenticated"}
	})
	pc, _ := newTestController(t, cfg, provider, resolver)

	runs, err := pc.ProcessDirectory(dir, pipeline.RunOptions{})
	assert.True(t, models.IsAuthError(err))
	assert.Len(t, runs, 1)
	resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestProcessDirectoryAll(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	resolver := new(mockResolver)
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(func(ctx context.Context, input string) models.AudioSource {
		name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		return models.AudioSource{Path: input, Name: name, Duration: 30}
	}, nil)

	pc, out := newTestController(t, cfg, okProvider(), resolver)
	runs, err := pc.ProcessDirectory(dir, pipeline.RunOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.FileExists(t, filepath.Join(cfg.OutputFolder, "a_summary.txt"))
	assert.FileExists(t, filepath.Join(cfg.OutputFolder, "b_summary.txt"))

	pc.PrintStats()
	assert.Contains(t, out.String(), "文件总数: 2")
}

func TestNewProcessorControllerRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.GeminiAPIKey = ""
	_, err := NewProcessorController(cfg, Options{NoSignals: true})

	var cfgErr *models.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	pc, _ := newTestController(t, testConfig(t), okProvider(), new(mockResolver))
	assert.DirExists(t, pc.WorkDir)

	pc.Cleanup()
	assert.NoDirExists(t, pc.WorkDir)
	assert.Error(t, pc.Context().Err())
}
