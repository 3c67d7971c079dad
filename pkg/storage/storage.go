package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// FileInfo 存储对象的元数据
type FileInfo struct {
	Key      string    // 对象键，使用斜杠分隔的相对路径
	Size     int64     // 大小(字节)
	MimeType string    // MIME类型
	Modified time.Time // 最后修改时间
}

// Storage 流水线产物存储接口
// 输入文件、中间文件和向量文件都通过对象键读写，可以有本地文件系统、MinIO等实现
type Storage interface {
	// Put 写入对象，键已存在时覆盖
	Put(ctx context.Context, key string, reader io.Reader) (FileInfo, error)

	// Get 读取对象内容，对象不存在时返回ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的所有对象
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string // 存储类型：local 或 minio
	Local LocalConfig
	Minio MinioConfig
}

// New 根据配置创建存储实例
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// cleanKey 规范化对象键，拒绝越出根目录的键
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", errors.New("object key cannot be empty")
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return cleaned, nil
}

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
