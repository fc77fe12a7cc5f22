package models

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config 表示转写程序的配置
type Config struct {
	GeminiAPIKey  string `json:"gemini_api_key" yaml:"gemini_api_key" toml:"gemini_api_key"`    // Gemini API 密钥
	GeminiModel   string `json:"gemini_model" yaml:"gemini_model" toml:"gemini_model"`          // 使用的模型
	GeminiBaseURL string `json:"gemini_base_url" yaml:"gemini_base_url" toml:"gemini_base_url"` // API 地址

	MaxSegmentDuration float64 `json:"max_segment_duration" yaml:"max_segment_duration" toml:"max_segment_duration"` // 单个片段最大时长（秒）
	MaxWorkers         int     `json:"max_workers" yaml:"max_workers" toml:"max_workers"`                            // 并发转写的片段数上限
	MaxRetries         int     `json:"max_retries" yaml:"max_retries" toml:"max_retries"`                            // 单次调用最大尝试次数
	RetryDelay         float64 `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay"`                            // 退避基础延迟（秒）
	RetryMaxDelay      float64 `json:"retry_max_delay" yaml:"retry_max_delay" toml:"retry_max_delay"`                // 退避延迟上限（秒）
	ExtractRetries     int     `json:"extract_retries" yaml:"extract_retries" toml:"extract_retries"`                // 片段提取失败后的额外重试次数

	RateLimitRequests int     `json:"rate_limit_requests" yaml:"rate_limit_requests" toml:"rate_limit_requests"` // 每个窗口允许的请求数
	RateLimitWindow   float64 `json:"rate_limit_window" yaml:"rate_limit_window" toml:"rate_limit_window"`       // 限流窗口（秒）
	RequestTimeout    float64 `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`             // 单次请求超时（秒）
	GracePeriod       float64 `json:"grace_period" yaml:"grace_period" toml:"grace_period"`                      // 取消后等待进行中请求的时间（秒）
	BestEffort        bool    `json:"best_effort" yaml:"best_effort" toml:"best_effort"`                         // 允许部分片段失败仍输出结果

	OutputFolder string `json:"output_folder" yaml:"output_folder" toml:"output_folder"` // 输出结果文件夹
	TempDir      string `json:"temp_dir" yaml:"temp_dir" toml:"temp_dir"`                // 临时目录
	PromptDir    string `json:"prompt_dir" yaml:"prompt_dir" toml:"prompt_dir"`          // 提示词目录
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`             // 日志级别
	LogFile      string `json:"log_file" yaml:"log_file" toml:"log_file"`                // 日志文件
	ShowProgress bool   `json:"show_progress" yaml:"show_progress" toml:"show_progress"` // 显示进度条
	ExportJSON   bool   `json:"export_json" yaml:"export_json" toml:"export_json"`       // 导出运行记录 JSON
	ExportSRT    bool   `json:"export_srt" yaml:"export_srt" toml:"export_srt"`          // 按片段导出 SRT

	ServerAddr    string `json:"server_addr" yaml:"server_addr" toml:"server_addr"`          // Web 服务监听地址
	MaxUploadMB   int64  `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`    // 上传文件大小上限（MB）
	WatchFolder   string `json:"watch_folder" yaml:"watch_folder" toml:"watch_folder"`       // 监听模式的输入文件夹
	ArchiveFolder string `json:"archive_folder" yaml:"archive_folder" toml:"archive_folder"` // 处理完成后归档的文件夹
}

// ConfigValidationError 表示配置验证错误
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("配置验证错误: %s - %s", e.Field, e.Message)
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		GeminiModel:        "gemini-2.5-flash",
		GeminiBaseURL:      "https://generativelanguage.googleapis.com",
		MaxSegmentDuration: 1800,
		MaxWorkers:         3,
		MaxRetries:         5,
		RetryDelay:         1.0,
		RetryMaxDelay:      64.0,
		ExtractRetries:     2,
		RateLimitRequests:  60,
		RateLimitWindow:    60,
		RequestTimeout:     300,
		GracePeriod:        5,
		BestEffort:         false,
		OutputFolder:       "./output",
		TempDir:            "./temp",
		PromptDir:          "",
		LogLevel:           "INFO",
		LogFile:            "",
		ShowProgress:       true,
		ExportJSON:         false,
		ExportSRT:          false,
		ServerAddr:         ":8080",
		MaxUploadMB:        500,
		WatchFolder:        "./inbox",
		ArchiveFolder:      "",
	}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if err := ensureDirExists(c.OutputFolder); err != nil {
		return &ConfigValidationError{"OutputFolder", err.Error()}
	}

	if err := ensureDirExists(c.TempDir); err != nil {
		return &ConfigValidationError{"TempDir", err.Error()}
	}

	if c.GeminiModel == "" {
		return &ConfigValidationError{"GeminiModel", "不能为空"}
	}

	if !isPositive(c.MaxSegmentDuration) {
		return &ConfigValidationError{"MaxSegmentDuration", "必须大于0"}
	}

	if c.MaxWorkers < 1 || c.MaxWorkers > 16 {
		return &ConfigValidationError{"MaxWorkers", "必须在1-16之间"}
	}

	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return &ConfigValidationError{"MaxRetries", "必须在1-10之间"}
	}

	if c.RetryDelay < 0.01 || c.RetryDelay > 60 {
		return &ConfigValidationError{"RetryDelay", "必须在0.01-60秒之间"}
	}

	if c.RetryMaxDelay < c.RetryDelay {
		return &ConfigValidationError{"RetryMaxDelay", "不能小于RetryDelay"}
	}

	if c.ExtractRetries < 0 || c.ExtractRetries > 5 {
		return &ConfigValidationError{"ExtractRetries", "必须在0-5之间"}
	}

	if c.RateLimitRequests < 1 {
		return &ConfigValidationError{"RateLimitRequests", "必须大于0"}
	}

	if !isPositive(c.RateLimitWindow) {
		return &ConfigValidationError{"RateLimitWindow", "必须大于0"}
	}

	if !isPositive(c.RequestTimeout) {
		return &ConfigValidationError{"RequestTimeout", "必须大于0"}
	}

	if c.GracePeriod < 0 {
		return &ConfigValidationError{"GracePeriod", "不能为负数"}
	}

	return nil
}

// RequireAPIKey 检查是否配置了 API 密钥
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return &ConfigValidationError{"GeminiAPIKey", "未设置，请配置 GEMINI_API_KEY 环境变量"}
	}
	return nil
}

// LoadFromFile 从文件加载配置，根据扩展名选择 JSON、YAML 或 TOML
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("读取配置文件失败: %v", err)
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		_, err = toml.Decode(string(data), c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		logrus.Errorf("解析配置文件失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.Errorf("创建目录失败: %v", err)
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.Errorf("写入配置文件失败: %v", err)
		return err
	}

	return nil
}

// LoadEnv 加载 .env 文件（如存在）并用环境变量覆盖配置
func (c *Config) LoadEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("加载环境文件 %s 失败: %w", f, err)
		}
	}

	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.MaxSegmentDuration = getEnvFloat("MAX_AUDIO_DURATION", c.MaxSegmentDuration)
	c.MaxWorkers = getEnvInt("MAX_WORKERS", c.MaxWorkers)
	c.MaxRetries = getEnvInt("RETRY_COUNT", c.MaxRetries)
	c.RetryDelay = getEnvFloat("RETRY_DELAY", c.RetryDelay)
	c.RetryMaxDelay = getEnvFloat("RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.RateLimitRequests = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.BestEffort = getEnvBool("BEST_EFFORT", c.BestEffort)
	c.OutputFolder = getEnv("OUTPUT_DIR", c.OutputFolder)
	c.TempDir = getEnv("TEMP_DIR", c.TempDir)
	c.PromptDir = getEnv("PROMPT_DIR", c.PromptDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	return nil
}

// Update 批量更新配置
func (c *Config) Update(updates map[string]interface{}) error {
	// 保存当前配置用于回滚
	tempConfig := *c

	updateBytes, err := json.Marshal(updates)
	if err != nil {
		logrus.Errorf("序列化更新数据失败: %v", err)
		return err
	}

	if err := json.Unmarshal(updateBytes, c); err != nil {
		*c = tempConfig
		logrus.Errorf("应用配置更新失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		*c = tempConfig
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// PrintConfig 打印当前配置，API 密钥只显示前几位
func (c *Config) PrintConfig() {
	masked := *c
	masked.GeminiAPIKey = MaskSecret(c.GeminiAPIKey)

	logrus.Info("\n当前配置:")
	bytes, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return
	}
	logrus.Info(string(bytes))
}

// RetryBaseDelay 返回退避基础延迟
func (c *Config) RetryBaseDelay() time.Duration { return seconds(c.RetryDelay) }

// RetryCeiling 返回退避延迟上限
func (c *Config) RetryCeiling() time.Duration { return seconds(c.RetryMaxDelay) }

// RateWindow 返回限流窗口
func (c *Config) RateWindow() time.Duration { return seconds(c.RateLimitWindow) }

// Timeout 返回单次请求超时
func (c *Config) Timeout() time.Duration { return seconds(c.RequestTimeout) }

// Grace 返回取消后的宽限时间
func (c *Config) Grace() time.Duration { return seconds(c.GracePeriod) }

// MaskSecret 隐藏密钥中间部分
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		logrus.Warnf("环境变量 %s 不是有效整数: %q", key, v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		logrus.Warnf("环境变量 %s 不是有效数字: %q", key, v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// 确保目录存在，如果不存在则创建
func ensureDirExists(path string) error {
	if path == "" {
		return nil // 空路径视为可选
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}

	return nil
}
