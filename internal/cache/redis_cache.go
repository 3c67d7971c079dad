package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache 基于Redis实现的缓存
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建一个新的Redis缓存
func NewRedisCache(config Config) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	return &RedisCache{
		client: client,
		prefix: config.Prefix,
		ttl:    config.DefaultTTL,
	}, nil
}

// Get 获取缓存内容
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, withPrefix(r.prefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// 键不存在
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Set 设置缓存内容，ttl为0时使用默认过期时间
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, withPrefix(r.prefix, key), value, ttl).Err()
}

// Delete 删除缓存项
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, withPrefix(r.prefix, key)).Err()
}

// Clear 清空当前前缀下的缓存
// 没有前缀时会清空整个Redis数据库，谨慎使用
func (r *RedisCache) Clear(ctx context.Context) error {
	if r.prefix == "" {
		return r.client.FlushDB(ctx).Err()
	}

	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Close 关闭连接
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// 在包初始化时注册Redis缓存
func init() {
	RegisterCache("redis", NewRedisCache)
}
