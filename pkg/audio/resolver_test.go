package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/scanner"
)

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, path string) (*models.AudioSource, error) {
	args := m.Called(path)
	if src, ok := args.Get(0).(*models.AudioSource); ok {
		return src, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, rawURL, dir string) (*DownloadedMedia, error) {
	args := m.Called(rawURL, dir)
	if media, ok := args.Get(0).(*DownloadedMedia); ok {
		return media, args.Error(1)
	}
	return nil, args.Error(1)
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))
	return path
}

func TestResolveLocalAudio(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Weekly: sync.mp3")

	prober := new(mockProber)
	prober.On("Probe", path).Return(&models.AudioSource{Path: path, Format: "mp3", Duration: 3600}, nil)

	r := &Resolver{Scanner: scanner.NewMediaScanner(), Prober: prober, WorkDir: dir}
	src, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Weekly_ sync", src.Name)
	assert.Equal(t, 3600.0, src.Duration)
	assert.Equal(t, models.InputFile, src.InputType)
	assert.Equal(t, path, src.Origin)
	prober.AssertExpectations(t)
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{Scanner: scanner.NewMediaScanner(), Prober: new(mockProber), WorkDir: dir}

	_, err := r.Resolve(context.Background(), filepath.Join(dir, "missing.mp3"))
	assert.True(t, models.IsInvalidInputError(err))

	_, err = r.Resolve(context.Background(), writeFile(t, dir, "notes.txt"))
	assert.True(t, models.IsInvalidInputError(err))

	empty := filepath.Join(dir, "empty.mp3")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = r.Resolve(context.Background(), empty)
	assert.True(t, models.IsInvalidInputError(err))
}

func TestResolveZeroDuration(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "silent.wav")
	prober := new(mockProber)
	prober.On("Probe", path).Return(&models.AudioSource{Path: path, Duration: 0}, nil)

	r := &Resolver{Scanner: scanner.NewMediaScanner(), Prober: prober, WorkDir: dir}
	_, err := r.Resolve(context.Background(), path)
	assert.True(t, models.IsInvalidInputError(err))
}

func TestResolveYouTube(t *testing.T) {
	dir := t.TempDir()
	url := "https://www.youtube.com/watch?v=abc123"
	downloaded := writeFile(t, dir, "abc123.mp3")

	dl := new(mockDownloader)
	dl.On("Download", url, dir).Return(&DownloadedMedia{Path: downloaded, Title: "Go Concurrency: Patterns?", Uploader: "GopherCon"}, nil)
	prober := new(mockProber)
	prober.On("Probe", downloaded).Return(&models.AudioSource{Path: downloaded, Format: "mp3", Duration: 2400}, nil)

	r := &Resolver{Scanner: scanner.NewMediaScanner(), Prober: prober, Downloader: dl, WorkDir: dir}
	src, err := r.Resolve(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, "GopherCon_Go Concurrency_ Patterns_", src.Name)
	assert.Equal(t, models.InputYouTube, src.InputType)
	assert.Equal(t, url, src.Origin)
	dl.AssertExpectations(t)
}

func TestIsYouTubeURL(t *testing.T) {
	cases := map[string]bool{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": true,
		"https://youtu.be/dQw4w9WgXcQ":                true,
		"https://m.youtube.com/watch?v=x":             true,
		"https://www.youtube.com/shorts/abc":          true,
		"https://www.youtube.com/":                    false,
		"https://vimeo.com/123":                       false,
		"/home/user/youtube.com.mp3":                  false,
		"ftp://youtube.com/watch?v=x":                 false,
	}
	for input, want := range cases {
		assert.Equal(t, want, IsYouTubeURL(input), input)
	}
}

func TestMediaBaseName(t *testing.T) {
	assert.Equal(t, "Title only", MediaBaseName("Title only", ""))
	long := "a very long title that goes on and on and on beyond the sixty character limit"
	assert.Equal(t, 60, len([]rune(MediaBaseName(long, ""))))
}
