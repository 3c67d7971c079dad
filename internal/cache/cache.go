package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache 缓存接口
// 值以字节形式保存，由调用方负责编码
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	// 默认使用内存缓存
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "memory", "redis"
	Type string
	// 键前缀，Clear只清理带该前缀的键
	Prefix string
	// Redis连接地址 (仅Redis缓存使用)
	RedisAddr string
	// Redis密码 (仅Redis缓存使用)
	RedisPassword string
	// Redis数据库编号 (仅Redis缓存使用)
	RedisDB int
	// 默认缓存过期时间
	DefaultTTL time.Duration
	// 自动清理间隔时间 (仅内存缓存使用)
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		Prefix:          "aven",
		DefaultTTL:      time.Hour * 24 * 7,
		CleanupInterval: time.Minute * 10,
	}
}

// GenerateCacheKey 生成标准化的缓存键
func GenerateCacheKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// EmbeddingKey 生成嵌入向量的缓存键
// 文本取sha256摘要，避免键过长
func EmbeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return GenerateCacheKey("embedding", model, hex.EncodeToString(sum[:]))
}

// withPrefix 为键加上命名空间前缀
func withPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
