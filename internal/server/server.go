// Package server 提供转写任务的 HTTP 接口和 WebSocket 进度推送
package server

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/scanner"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Server Web 服务
type Server struct {
	cfg       *models.Config
	tasks     *TaskStore
	runner    Runner
	validator KeyValidator
	scanner   *scanner.MediaScanner
	router    *gin.Engine
	uploadDir string

	// 任务使用服务的上下文，关闭服务时取消进行中的任务
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New 创建服务并注册路由
func New(cfg *models.Config, runner Runner, validator KeyValidator) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		tasks:     NewTaskStore(),
		runner:    runner,
		validator: validator,
		scanner:   scanner.NewMediaScanner(),
		uploadDir: filepath.Join(cfg.TempDir, "uploads"),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/transcribe/file", s.handleTranscribeFile)
		api.POST("/transcribe/youtube", s.handleTranscribeYouTube)
		api.POST("/validate-api-key", s.handleValidateKey)
		api.GET("/tasks/:id", s.handleGetTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.GET("/tasks/:id/events", s.handleTaskEvents)
	}
	return r
}

// requestLogger 用项目日志记录请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		utils.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Tasks 返回任务存储
func (s *Server) Tasks() *TaskStore {
	return s.tasks
}

// ListenAndServe 启动服务，ctx 取消后优雅关闭并等待任务退出
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Info("Web 服务已启动: http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	utils.Info("正在关闭 Web 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close 取消所有任务并等待它们结束
func (s *Server) Close() {
	s.cancel()
	s.running.Wait()
}

// start 在后台执行任务，cleanup 在任务结束后调用
func (s *Server) start(job Job, cleanup func()) {
	job.Sink = s.tasks.Sink(job.TaskID)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.tasks.MarkRunning(job.TaskID)
		run, err := s.runner.Run(s.ctx, job)
		if cleanup != nil {
			cleanup()
		}
		s.tasks.Finish(job.TaskID, resultOf(run, err), err)
	}()
}

// resultOf 成功的任务返回全部文本，失败时只保留用量
func resultOf(run *models.TranscriptionRun, err error) *TaskResult {
	if run == nil {
		return nil
	}
	res := &TaskResult{
		Duration:       run.Source.Duration,
		ElapsedSeconds: run.Elapsed().Seconds(),
		Usage:          run.Usage,
	}
	if err == nil {
		res.Raw = run.Raw
		res.Formatted = run.Formatted
		res.Summary = run.Summary
		res.Outputs = run.Outputs
	}
	return res
}
