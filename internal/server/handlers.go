package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ccp-p/media-transcriber/pkg/audio"
	"github.com/ccp-p/media-transcriber/pkg/models"
	"github.com/ccp-p/media-transcriber/pkg/transcript"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// --- Helper Functions ---

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, BaseResponse{Code: 0, Data: data})
}

func respondWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, BaseResponse{Code: code, Msg: message})
}

// --- API Handlers ---

func (s *Server) handleHealth(c *gin.Context) {
	respondOK(c, gin.H{"status": "ok", "tasks": s.tasks.Count()})
}

// handleTranscribeFile 上传音视频文件并创建转写任务
func (s *Server) handleTranscribeFile(c *gin.Context) {
	if limit := s.cfg.MaxUploadMB << 20; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("audio_file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("文件超过 %dMB 限制", s.cfg.MaxUploadMB))
			return
		}
		respondWithError(c, http.StatusBadRequest, "缺少上传文件 audio_file")
		return
	}

	name := filepath.Base(file.Filename)
	if !s.scanner.IsSupported(name) {
		respondWithError(c, http.StatusBadRequest, "不支持的文件格式: "+filepath.Ext(name))
		return
	}
	mode, err := transcript.ParseMode(c.PostForm("mode"))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	taskID := s.tasks.Create(name, mode.String())
	dir := filepath.Join(s.uploadDir, taskID)
	path := filepath.Join(dir, utils.SafeFilename(utils.BaseName(name), 100)+strings.ToLower(filepath.Ext(name)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		s.tasks.Finish(taskID, nil, fmt.Errorf("保存上传文件失败: %w", err))
		os.RemoveAll(dir)
		respondWithError(c, http.StatusInternalServerError, "保存上传文件失败")
		return
	}

	s.start(Job{
		TaskID: taskID,
		Input:  path,
		Mode:   mode,
		APIKey: strings.TrimSpace(c.PostForm("api_key_override")),
	}, func() { os.RemoveAll(dir) })
	c.JSON(http.StatusAccepted, BaseResponse{Code: 0, Data: TaskCreated{TaskID: taskID}})
}

// handleTranscribeYouTube 下载 YouTube 音频并创建转写任务
func (s *Server) handleTranscribeYouTube(c *gin.Context) {
	var req YouTubeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !audio.IsYouTubeURL(req.URL) {
		respondWithError(c, http.StatusBadRequest, "不是有效的 YouTube 链接")
		return
	}
	mode, err := transcript.ParseMode(req.Mode)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	taskID := s.tasks.Create(req.URL, mode.String())
	s.start(Job{
		TaskID: taskID,
		Input:  req.URL,
		Mode:   mode,
		APIKey: strings.TrimSpace(req.APIKeyOverride),
	}, nil)
	c.JSON(http.StatusAccepted, BaseResponse{Code: 0, Data: TaskCreated{TaskID: taskID}})
}

// handleGetTask 查询任务状态和结果
func (s *Server) handleGetTask(c *gin.Context) {
	view, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		respondWithError(c, http.StatusNotFound, "未找到指定的任务")
		return
	}
	respondOK(c, view)
}

// handleDeleteTask 删除已结束的任务
func (s *Server) handleDeleteTask(c *gin.Context) {
	id := c.Param("id")
	view, ok := s.tasks.Get(id)
	if !ok {
		respondWithError(c, http.StatusNotFound, "未找到要删除的任务")
		return
	}
	if !view.Status.Finished() {
		respondWithError(c, http.StatusConflict, "任务仍在进行中")
		return
	}
	s.tasks.Delete(id)
	c.JSON(http.StatusOK, BaseResponse{Code: 0, Msg: "任务已删除"})
}

// handleValidateKey 检查 API 密钥是否可用
func (s *Server) handleValidateKey(c *gin.Context) {
	var req ValidateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "缺少 api_key")
		return
	}

	err := s.validator.ValidateKey(c.Request.Context(), strings.TrimSpace(req.APIKey))
	switch {
	case err == nil:
		respondOK(c, gin.H{"valid": true})
	case models.IsAuthError(err):
		c.JSON(http.StatusOK, BaseResponse{Code: 0, Msg: err.Error(), Data: gin.H{"valid": false}})
	default:
		utils.Warn("校验 API 密钥失败: %v", err)
		respondWithError(c, http.StatusBadGateway, "无法连接 Gemini API")
	}
}
