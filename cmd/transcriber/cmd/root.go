package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

var (
	cfgFile string
	envFile string
	logFile string
	verbose bool

	// cfg 在 PersistentPreRunE 中加载
	cfg *models.Config
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "基于 Gemini 的音视频转写工具",
	Long: `transcriber 把本地音视频文件或 YouTube 链接转写为文本。

长音频会被切分为片段并发转写，按时间顺序合并后
再整理格式并生成摘要。

命令:
  transcribe  转写文件、目录或 YouTube 链接
  serve       启动 Web 服务
  watch       监控文件夹并自动转写新文件
  config      查看或生成配置文件`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute 执行根命令
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件 (.json/.yaml/.toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "环境变量文件")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "日志文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
}

// loadConfig 依次应用默认值、配置文件、环境变量和命令行参数
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := buildConfig(cfgFile, envFile)
	if err != nil {
		return err
	}
	if verbose {
		c.LogLevel = "VERBOSE"
	}
	if logFile != "" {
		c.LogFile = logFile
	}
	if err := utils.InitLogger(c.LogLevel, c.LogFile); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	cfg = c
	return nil
}

func buildConfig(path, env string) (*models.Config, error) {
	c := models.NewDefaultConfig()
	if path != "" {
		if err := c.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("加载配置文件 %s 失败: %w", path, err)
		}
	}
	var envFiles []string
	if env != "" {
		envFiles = append(envFiles, env)
	}
	if err := c.LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	return c, nil
}

func printError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "错误: %v\n", err)
}
