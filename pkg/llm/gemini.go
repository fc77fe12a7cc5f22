package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// DefaultBaseURL Gemini REST API 地址
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// DefaultInlineLimit 超过该大小的音频改用 Files API 上传
const DefaultInlineLimit = 18 << 20

// GeminiClient 封装对 Gemini REST API 的访问
type GeminiClient struct {
	APIKey      string
	BaseURL     string
	HttpClient  *http.Client
	InlineLimit int64
	// PollInterval 等待上传文件就绪的轮询间隔
	PollInterval time.Duration
	// Limiter 非空时，文件状态轮询也占用限流配额
	Limiter *rate.Limiter
}

// NewGeminiClient 创建一个新的 API 客户端
func NewGeminiClient(apiKey, baseURL string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GeminiClient{
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HttpClient:   &http.Client{Timeout: timeout},
		InlineLimit:  DefaultInlineLimit,
		PollInterval: 2 * time.Second,
	}
}

// Request 一次生成请求，AudioPath 为空时是纯文本请求
type Request struct {
	Model       string
	Prompt      string
	Text        string
	AudioPath   string
	Temperature *float64
}

// Usage 用量统计
type Usage struct {
	PromptTokens int
	AudioTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response 生成结果
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// APIError 表示 API 返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Status     string // 如 RESOURCE_EXHAUSTED、INVALID_ARGUMENT
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("Gemini API 错误(%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("Gemini API 错误(%d): %s", e.StatusCode, e.Message)
}

// BlockedError 请求或回复被安全策略拦截
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "内容被安全策略拦截: " + e.Reason
}

// ErrEmptyResponse 模型没有返回任何文本
var ErrEmptyResponse = errors.New("gemini 响应中没有生成内容")

// ErrMalformedResponse 2xx 响应体无法解析，通常是连接中断导致的截断
var ErrMalformedResponse = errors.New("解析响应失败")

// ErrFileProcessing 上传的文件在服务端处理失败
var ErrFileProcessing = errors.New("上传文件处理失败")

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
		PromptTokensDetails  []struct {
			Modality   string `json:"modality"`
			TokenCount int    `json:"tokenCount"`
		} `json:"promptTokensDetails"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// UploadedFile Files API 中的文件
type UploadedFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

// Generate 调用 generateContent
// 音频小于 InlineLimit 时内嵌在请求中，否则先上传到 Files API，结束后删除
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	parts := []part{{Text: req.Prompt}}
	if req.Text != "" {
		parts[0].Text = req.Prompt + "\n\n" + req.Text
	}

	if req.AudioPath != "" {
		audioPart, cleanup, err := c.audioPart(ctx, req.AudioPath)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		parts = append(parts, audioPart)
	}

	body := generateRequest{Contents: []content{{Role: "user", Parts: parts}}}
	if req.Temperature != nil {
		body.GenerationConfig = &generationConfig{Temperature: req.Temperature}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, req.Model)
	respBody, err := c.doJSON(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return nil, &BlockedError{Reason: parsed.PromptFeedback.BlockReason}
	}
	if len(parsed.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	candidate := parsed.Candidates[0]
	if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "PROHIBITED_CONTENT" {
		return nil, &BlockedError{Reason: candidate.FinishReason}
	}

	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyResponse
	}

	usage := Usage{
		PromptTokens: parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  parsed.UsageMetadata.TotalTokenCount,
	}
	for _, d := range parsed.UsageMetadata.PromptTokensDetails {
		if d.Modality == "AUDIO" {
			usage.AudioTokens += d.TokenCount
		}
	}

	return &Response{Text: text, FinishReason: candidate.FinishReason, Usage: usage}, nil
}

func (c *GeminiClient) audioPart(ctx context.Context, path string) (part, func(), error) {
	noop := func() {}
	info, err := os.Stat(path)
	if err != nil {
		return part{}, noop, fmt.Errorf("读取音频文件失败: %w", err)
	}
	mimeType := AudioMimeType(path)

	if info.Size() <= c.InlineLimit {
		data, err := os.ReadFile(path)
		if err != nil {
			return part{}, noop, fmt.Errorf("读取音频文件失败: %w", err)
		}
		return part{InlineData: &inlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}}, noop, nil
	}

	file, err := c.UploadFile(ctx, path, mimeType)
	if err != nil {
		return part{}, noop, err
	}
	cleanup := func() {
		// 调用方的 ctx 可能已取消，删除使用独立的超时
		delCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.DeleteFile(delCtx, file.Name); err != nil {
			utils.Warn("删除已上传文件 %s 失败: %v", file.Name, err)
		}
	}
	return part{FileData: &fileData{MimeType: file.MimeType, FileURI: file.URI}}, cleanup, nil
}

// UploadFile 通过可续传协议上传文件，并等待文件可用
func (c *GeminiClient) UploadFile(ctx context.Context, path, mimeType string) (*UploadedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取音频文件失败: %w", err)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"file": map[string]string{"display_name": filepath.Base(path)},
	})
	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	startReq.Header.Set("Content-Type", "application/json")
	startReq.Header.Set("X-Goog-Upload-Protocol", "resumable")
	startReq.Header.Set("X-Goog-Upload-Command", "start")
	startReq.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
	startReq.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	startResp, _, err := c.send(startReq)
	if err != nil {
		return nil, err
	}
	uploadURL := startResp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("%w: 上传初始化响应缺少上传地址", ErrMalformedResponse)
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	uploadReq.Header.Set("X-Goog-Upload-Offset", "0")
	uploadReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	_, body, err := c.send(uploadReq)
	if err != nil {
		return nil, err
	}

	var uploaded struct {
		File UploadedFile `json:"file"`
	}
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return nil, fmt.Errorf("%w (上传): %w", ErrMalformedResponse, err)
	}
	utils.Debug("文件已上传: %s (%s)", uploaded.File.Name, utils.FormatFileSize(int64(len(data))))

	return c.waitActive(ctx, &uploaded.File)
}

func (c *GeminiClient) waitActive(ctx context.Context, file *UploadedFile) (*UploadedFile, error) {
	for file.State == "PROCESSING" {
		if err := utils.ContextSleep(ctx, c.PollInterval); err != nil {
			return nil, err
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("等待限流: %v: %w", err, context.DeadlineExceeded)
			}
		}
		body, err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/v1beta/"+file.Name, nil)
		if err != nil {
			return nil, err
		}
		var latest UploadedFile
		if err := json.Unmarshal(body, &latest); err != nil {
			return nil, fmt.Errorf("%w (文件状态): %w", ErrMalformedResponse, err)
		}
		file = &latest
	}
	if file.State == "FAILED" {
		return nil, fmt.Errorf("%w: %s", ErrFileProcessing, file.Name)
	}
	return file, nil
}

// DeleteFile 删除 Files API 中的文件
func (c *GeminiClient) DeleteFile(ctx context.Context, name string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, c.BaseURL+"/v1beta/"+name, nil)
	return err
}

// ValidateKey 通过列出模型检查 API 密钥是否可用
func (c *GeminiClient) ValidateKey(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, c.BaseURL+"/v1beta/models?pageSize=1", nil)
	return err
}

// WithAPIKey 返回使用另一个密钥的客户端副本
func (c *GeminiClient) WithAPIKey(apiKey string) *GeminiClient {
	clone := *c
	clone.APIKey = apiKey
	return &clone
}

// WithLimiter 返回文件状态轮询共享该限流器的客户端副本
func (c *GeminiClient) WithLimiter(l *rate.Limiter) *GeminiClient {
	clone := *c
	clone.Limiter = l
	return &clone
}

func (c *GeminiClient) doJSON(ctx context.Context, method, url string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	_, body, err := c.send(req)
	return body, err
}

// send 发送请求，非 2xx 响应转换为 *APIError
func (c *GeminiClient) send(req *http.Request) (*http.Response, []byte, error) {
	req.Header.Set("x-goog-api-key", c.APIKey)

	utils.Debug("发送API请求: %s %s", req.Method, req.URL.Path)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
			apiErr.Status = parsed.Error.Status
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			apiErr.Message += " (retry-after " + ra + ")"
		}
		return resp, nil, apiErr
	}

	return resp, body, nil
}

// AudioMimeType 根据扩展名返回音频 MIME 类型
func AudioMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".aiff", ".aif":
		return "audio/aiff"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	}
	return "audio/mp3"
}
