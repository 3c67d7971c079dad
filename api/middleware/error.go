package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/aven-ingest/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误类型
const (
	ErrorTypeValidation = "VALIDATION_ERROR" // 输入验证错误
	ErrorTypeNotFound   = "NOT_FOUND_ERROR"  // 资源不存在
	ErrorTypeInternal   = "INTERNAL_ERROR"   // 内部错误
)

// AppError 应用错误
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细信息
	Code    int    // HTTP状态码
}

// Error 实现error接口
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					FieldError: err,
					"stack":    string(debug.Stack()),
					FieldPath:  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errResp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				if gin.Mode() == gin.DebugMode {
					errResp.Message = fmt.Sprintf("Panic: %v", err)
				}
				errResp.TraceID = TraceID(c)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		traceID := TraceID(c)

		var appErr AppError
		var appErrPtr *AppError
		switch {
		case errors.As(err, &appErr):
		case errors.As(err, &appErrPtr):
			appErr = *appErrPtr
		default:
			appErr = NewInternalError("Internal server error")
			if gin.Mode() == gin.DebugMode {
				appErr.Message = err.Error()
			}
		}

		log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			"details":    appErr.Details,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
		}).Error(appErr.Message)

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		errResp.TraceID = traceID
		c.AbortWithStatusJSON(appErr.Code, errResp)
	}
}

// HandleError 在处理器中记录错误，由ErrorMiddleware统一输出
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
