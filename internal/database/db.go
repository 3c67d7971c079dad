package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB 全局数据库连接，保存写入清单
var DB *gorm.DB

// Config 数据库配置
type Config struct {
	Type         string        // 数据库类型：sqlite, postgres
	DSN          string        // 数据源名称
	MaxOpenConns int           // 最大打开连接数
	MaxIdleConns int           // 最大空闲连接数
	MaxLifetime  time.Duration // 连接最大生命周期
}

// DefaultConfig 返回默认数据库配置
func DefaultConfig() *Config {
	return &Config{
		Type:         "sqlite",
		DSN:          "data/manifest.db", // 默认SQLite数据库路径
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		MaxLifetime:  time.Hour,
	}
}

// Open 根据配置打开数据库连接
func Open(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logrus.New()
	}

	var dialector gorm.Dialector

	// 根据数据库类型创建方言
	switch cfg.Type {
	case "sqlite", "":
		// 确保目录存在
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	// 创建GORM日志配置
	gormLogger := logger.New(
		&logrusWriter{log}, // 使用logrus作为日志输出
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // 慢查询阈值
			LogLevel:                  logger.Warn,            // 日志级别
			IgnoreRecordNotFoundError: true,                   // 忽略记录未找到错误
			Colorful:                  false,                  // 无色彩输出
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %v", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	return db, nil
}

// Setup 设置全局数据库连接并迁移清单表
func Setup(cfg *Config, log *logrus.Logger) error {
	db, err := Open(cfg, log)
	if err != nil {
		return err
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to auto migrate: %v", err)
	}

	DB = db
	if log != nil {
		log.Info("Database connection established successfully")
	}
	return nil
}

// MustDB 返回全局数据库连接，未初始化时panic
func MustDB() *gorm.DB {
	if DB == nil {
		panic("database not initialized, call Setup first")
	}
	return DB
}

// Close 关闭全局数据库连接
func Close() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %v", err)
	}

	DB = nil
	return sqlDB.Close()
}

// AutoMigrate 自动迁移数据库模型
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CommittedBatch{},
	)
}

// ensureDir 确保目录存在，内存数据库跳过
func ensureDir(dbPath string) error {
	if dbPath == "" || dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return nil
	}

	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	return nil
}

// logrusWriter 实现gorm.Writer接口，将日志输出到logrus
type logrusWriter struct {
	logger *logrus.Logger
}

// Printf 将GORM日志转发到logrus
func (w *logrusWriter) Printf(format string, args ...interface{}) {
	w.logger.Tracef(format, args...)
}
