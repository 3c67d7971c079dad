package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer 控制远程调用的节奏
type Pacer interface {
	// Wait 阻塞直到允许下一次调用，ctx取消时返回错误
	Wait(ctx context.Context) error
}

// IntervalLimiter 固定间隔限流器
// 相邻两次放行之间至少间隔interval，收到限流错误后可整体退避
type IntervalLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	retryAt  time.Time
}

// NewIntervalLimiter 创建固定间隔限流器，interval<=0时不限流
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait 等待下一次放行
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if time.Now().Before(retryAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(retryAt)):
		}
	}

	return l.limiter.Wait(ctx)
}

// Backoff 在d时间内暂停放行，用于服务端返回限流错误之后
func (l *IntervalLimiter) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(l.retryAt) {
		l.retryAt = until
	}
}

// Interval 返回放行间隔
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

// noopPacer 不做任何等待
type noopPacer struct{}

func (noopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// NoopPacer 返回不等待的Pacer
func NoopPacer() Pacer {
	return noopPacer{}
}
