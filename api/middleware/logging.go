package middleware

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 上下文中保存追踪ID的键
const traceIDKey = "TraceID"

// TraceIDHeader 追踪ID请求头
const TraceIDHeader = "X-Trace-ID"

var log = logrus.New()

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetLevel(logrus.InfoLevel)
}

// SetLogger 替换中间件和处理器使用的日志记录器
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// GetLogger 获取当前日志记录器
func GetLogger() *logrus.Logger {
	return log
}

// Logger 请求日志中间件，记录状态码和耗时
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(logrus.Fields{
			FieldStatus:   c.Writer.Status(),
			FieldLatency:  time.Since(start).String(),
			FieldClientIP: c.ClientIP(),
			FieldMethod:   c.Request.Method,
			FieldPath:     path,
			FieldTraceID:  TraceID(c),
		}).Info("HTTP request")
	}
}

// RequestBodyLog 在debug级别下记录请求体
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if log.IsLevelEnabled(logrus.DebugLevel) && c.Request.Body != nil {
			var buf bytes.Buffer
			body, _ := io.ReadAll(io.TeeReader(c.Request.Body, &buf))
			c.Request.Body = io.NopCloser(&buf)

			if len(body) > 0 {
				log.WithFields(logrus.Fields{
					FieldMethod:  c.Request.Method,
					FieldPath:    c.Request.URL.Path,
					FieldTraceID: TraceID(c),
					"body":       string(body),
				}).Debug("Request body")
			}
		}

		c.Next()
	}
}

// SetTraceID 读取或生成追踪ID，写入上下文和响应头
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set(traceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Next()
	}
}

// TraceID 获取当前请求的追踪ID
func TraceID(c *gin.Context) string {
	if v, ok := c.Get(traceIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// 常用日志字段
const (
	FieldTraceID  = "trace_id"    // 追踪ID
	FieldPath     = "path"        // 请求路径
	FieldMethod   = "method"      // 请求方法
	FieldStatus   = "status_code" // 状态码
	FieldLatency  = "latency"     // 延迟时间
	FieldClientIP = "client_ip"   // 客户端IP
	FieldError    = "error"       // 错误信息
)
