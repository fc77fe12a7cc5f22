package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ccp-p/media-transcriber/internal/server"
	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 Web 服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.ServerAddr = serveAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.RequireAPIKey() != nil {
			utils.Warn("未配置 GEMINI_API_KEY，请求需要提供 api_key_override")
		}
		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		client := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.Timeout())
		runner, err := server.NewPipelineRunner(cfg, client)
		if err != nil {
			return err
		}
		srv := server.New(cfg, runner, server.GeminiKeyValidator{Client: client})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, cfg.ServerAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，如 :8080")
	rootCmd.AddCommand(serveCmd)
}
