package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindExtraction     ErrorKind = "extraction"
	KindTransient      ErrorKind = "transient"
	KindAuth           ErrorKind = "auth"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindProcessing     ErrorKind = "processing"
	KindCancelled      ErrorKind = "cancelled"
)

// AppError 带分类的错误
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 参数无效
func NewInvalidInputError(format string, args ...interface{}) error {
	return &AppError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// NewExtractionError 片段提取失败
func NewExtractionError(message string, err error) error {
	return &AppError{Kind: KindExtraction, Message: message, Err: err}
}

// NewTransientError 临时性错误且重试已耗尽
func NewTransientError(message string, err error) error {
	return &AppError{Kind: KindTransient, Message: message, Err: err}
}

// NewAuthError 认证失败
func NewAuthError(message string, err error) error {
	return &AppError{Kind: KindAuth, Message: message, Err: err}
}

// NewInvalidRequestError 请求被拒绝（参数、内容策略等）
func NewInvalidRequestError(message string, err error) error {
	return &AppError{Kind: KindInvalidRequest, Message: message, Err: err}
}

// NewQuotaExceededError 配额耗尽
func NewQuotaExceededError(message string, err error) error {
	return &AppError{Kind: KindQuotaExceeded, Message: message, Err: err}
}

// NewCancelledError 因运行被取消而未执行
func NewCancelledError(err error) error {
	return &AppError{Kind: KindCancelled, Message: "运行已取消", Err: err}
}

// KindOf 返回错误链中第一个分类，未分类返回空字符串
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return KindProcessing
	}
	return ""
}

func IsInvalidInputError(err error) bool   { return KindOf(err) == KindInvalidInput }
func IsExtractionError(err error) bool     { return KindOf(err) == KindExtraction }
func IsTransientError(err error) bool      { return KindOf(err) == KindTransient }
func IsAuthError(err error) bool           { return KindOf(err) == KindAuth }
func IsInvalidRequestError(err error) bool { return KindOf(err) == KindInvalidRequest }
func IsQuotaExceededError(err error) bool  { return KindOf(err) == KindQuotaExceeded }
func IsCancelledError(err error) bool      { return KindOf(err) == KindCancelled }

// IsFatal 判断错误是否应终止整个运行
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindQuotaExceeded:
		return true
	}
	return false
}

// FailedSegment 描述一个失败的片段
type FailedSegment struct {
	Index  int
	Window SegmentWindow
	Err    error
}

// ProcessingError 合并时存在失败片段
type ProcessingError struct {
	Failed []FailedSegment
	Reason string
}

// NewProcessingError 按索引排序失败片段
func NewProcessingError(failed []FailedSegment) *ProcessingError {
	sorted := make([]FailedSegment, len(failed))
	copy(sorted, failed)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	return &ProcessingError{Failed: sorted}
}

func (e *ProcessingError) Error() string {
	if e.Reason != "" {
		return "合并转写结果失败: " + e.Reason
	}
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("#%d [%s-%s]", f.Index,
			FormatTimestamp(f.Window.Start), FormatTimestamp(f.Window.End)))
	}
	return fmt.Sprintf("%d 个片段转写失败: %s", len(e.Failed), strings.Join(parts, ", "))
}

// FailedIndices 返回失败片段索引（升序）
func (e *ProcessingError) FailedIndices() []int {
	indices := make([]int, 0, len(e.Failed))
	for _, f := range e.Failed {
		indices = append(indices, f.Index)
	}
	return indices
}

// StageError 标注失败的流水线阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s 阶段失败: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WithStage 为错误标注阶段，nil 保持 nil
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf 返回错误所在阶段
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
