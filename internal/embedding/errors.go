package embedding

import (
	"errors"
	"fmt"
	"net/http"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// Retryable 是否为可重试的临时错误
func (e EmbeddingError) Retryable() bool {
	switch e.Code {
	case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeServerError, ErrCodeTimeout:
		return true
	}
	return false
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

var (
	// ErrEmptyText 输入文本为空，不会发起请求
	ErrEmptyText = errors.New("empty text")
	// ErrEmptyVector 服务端返回了空向量
	ErrEmptyVector = errors.New("empty embedding vector returned")
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// errorFromStatus 将HTTP状态码映射为嵌入错误
func errorFromStatus(status int, message string) EmbeddingError {
	var code int
	switch {
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeInvalidAPIKey
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
	case status >= http.StatusInternalServerError:
		code = ErrCodeServerError
	default:
		code = ErrCodeInvalidRequest
	}
	return NewEmbeddingError(code, fmt.Sprintf("API error (status %d): %s", status, message))
}

// IsRetryable 判断错误是否为临时错误
func IsRetryable(err error) bool {
	var embErr EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Retryable()
	}
	return false
}
