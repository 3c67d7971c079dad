package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别：debug, info, warn, error
	Format     string // 输出格式：json 或 text
	File       string // 日志文件路径，为空时只输出到标准输出
	MaxSizeMB  int    // 单个日志文件最大大小
	MaxBackups int    // 保留的旧日志文件数
	MaxAgeDays int    // 旧日志文件保留天数
	Compress   bool   // 是否压缩旧日志
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New 根据配置创建日志记录器
func New(cfg Config) (*logrus.Logger, error) {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput 创建日志记录器，使用指定的控制台输出
func NewWithOutput(cfg Config, console io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	if console == nil {
		console = os.Stdout
	}
	output := console

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output = io.MultiWriter(console, rotator)
	}
	logger.SetOutput(output)

	return logger, nil
}

// ParseLevel 解析日志级别，空字符串视为info
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return logrus.InfoLevel, nil
	case "warning":
		return logrus.WarnLevel, nil
	default:
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		return parsed, nil
	}
}

// Discard 返回丢弃所有输出的日志记录器
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
