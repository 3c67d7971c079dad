package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 以模型名和文本摘要为键缓存向量，重复运行时复用已有结果
type CachedClient struct {
	client Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 包装嵌入客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedClient{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Name 返回底层模型名称
func (c *CachedClient) Name() string {
	return c.client.Name()
}

// Embed 优先从缓存读取向量
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.EmbeddingKey(c.client.Name(), text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, vec)
	return vec, nil
}

// queryEmbedder 对查询文本使用单独任务类型的客户端
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedQuery 计算查询向量，查询向量与入库向量分开缓存
func (c *CachedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	qe, ok := c.client.(queryEmbedder)
	if !ok {
		return c.Embed(ctx, text)
	}

	key := cache.EmbeddingKey(c.client.Name()+"#query", text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := qe.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, vec)
	return vec, nil
}

// lookup 缓存读取失败只记录日志，不影响主流程
func (c *CachedClient) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to read embedding cache")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *CachedClient) store(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to write embedding cache")
	}
}
