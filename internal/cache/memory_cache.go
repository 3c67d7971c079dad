package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 基于go-cache实现的内存缓存
type MemoryCache struct {
	cache  *gocache.Cache
	prefix string
}

// NewMemoryCache 创建一个新的内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	// 默认过期时间和清理间隔
	defaultExpiration := config.DefaultTTL
	if defaultExpiration == 0 {
		defaultExpiration = 24 * time.Hour
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	return &MemoryCache{
		cache:  gocache.New(defaultExpiration, cleanupInterval),
		prefix: config.Prefix,
	}, nil
}

// Get 获取缓存内容
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, found := m.cache.Get(withPrefix(m.prefix, key))
	if !found {
		return nil, false, nil
	}
	data, ok := value.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

// Set 设置缓存内容
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// 如果ttl为0，使用默认过期时间
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.cache.Set(withPrefix(m.prefix, key), stored, ttl)
	return nil
}

// Delete 删除缓存项
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.cache.Delete(withPrefix(m.prefix, key))
	return nil
}

// Clear 清空当前前缀下的缓存
func (m *MemoryCache) Clear(_ context.Context) error {
	if m.prefix == "" {
		m.cache.Flush()
		return nil
	}
	for key := range m.cache.Items() {
		if strings.HasPrefix(key, m.prefix+":") {
			m.cache.Delete(key)
		}
	}
	return nil
}

// Len 返回缓存项数量
func (m *MemoryCache) Len() int {
	return m.cache.ItemCount()
}

// Close 内存缓存无需释放资源
func (m *MemoryCache) Close() error {
	return nil
}

// 在包初始化时注册内存缓存
func init() {
	RegisterCache("memory", NewMemoryCache)
}
