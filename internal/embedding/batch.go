package embedding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBatchInterval 相邻批次之间的间隔
	DefaultBatchInterval = 200 * time.Millisecond
	// DefaultRetryInterval 单条重试之间的间隔
	DefaultRetryInterval = 100 * time.Millisecond
	// DefaultEngineBatchSize 默认批量大小
	DefaultEngineBatchSize = 100
)

// Outcome 单条文本的嵌入结果
// Err为nil时Vector为有效结果（可能长度为0）
type Outcome struct {
	Vector []float32
	Err    error
}

// OK 是否成功
func (o Outcome) OK() bool {
	return o.Err == nil
}

// backoffer 支持限流退避的Pacer
type backoffer interface {
	Backoff(d time.Duration)
}

// Engine 批量嵌入引擎
// 以批为单位调用远程模型，批内任一调用失败时丢弃该批结果并逐条重试
type Engine struct {
	client      Client         // 嵌入客户端
	batchSize   int            // 每批处理的文本数量
	maxWorkers  int            // 并行处理的批次数
	batchPacer  Pacer          // 每批开始前等待
	retryPacer  Pacer          // 每次单条重试前等待
	rateBackoff time.Duration  // 收到限流错误后的退避时间
	logger      *logrus.Logger // 日志记录器
}

// EngineOption 引擎配置选项
type EngineOption func(*Engine)

// NewEngine 创建批量嵌入引擎
func NewEngine(client Client, opts ...EngineOption) *Engine {
	e := &Engine{
		client:     client,
		batchSize:  DefaultEngineBatchSize,
		maxWorkers: 1,
		batchPacer: NewIntervalLimiter(DefaultBatchInterval),
		retryPacer: NewIntervalLimiter(DefaultRetryInterval),
		logger:     logrus.New(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WithEngineBatchSize 设置批量大小
func WithEngineBatchSize(size int) EngineOption {
	return func(e *Engine) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// WithMaxWorkers 设置并行批次数
func WithMaxWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithBatchPacer 设置批次节奏控制
func WithBatchPacer(p Pacer) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.batchPacer = p
		}
	}
}

// WithRetryPacer 设置单条重试节奏控制
func WithRetryPacer(p Pacer) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.retryPacer = p
		}
	}
}

// WithRateLimitBackoff 设置限流错误后的退避时间
func WithRateLimitBackoff(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.rateBackoff = d
	}
}

// WithEngineLogger 设置日志记录器
func WithEngineLogger(logger *logrus.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Model 返回使用的模型名称
func (e *Engine) Model() string {
	return e.client.Name()
}

// EmbedAll 为每条文本计算向量，返回结果与输入一一对应
// 单条失败不会中断整体流程
func (e *Engine) EmbedAll(ctx context.Context, texts []string) []Outcome {
	outcomes := make([]Outcome, len(texts))
	if len(texts) == 0 {
		return outcomes
	}

	batches := splitIntoBatches(len(texts), e.batchSize)
	e.logger.WithFields(logrus.Fields{
		"texts":   len(texts),
		"batches": len(batches),
		"model":   e.client.Name(),
	}).Info("Generating embeddings")

	wp := workerpool.New(e.maxWorkers)
	for i, b := range batches {
		i, b := i, b
		// 每个批次只写入自己负责的区间
		wp.Submit(func() {
			e.processBatch(ctx, i, texts[b.start:b.end], outcomes[b.start:b.end], b.start)
		})
	}
	wp.StopWait()

	return outcomes
}

// processBatch 处理单个批次
func (e *Engine) processBatch(ctx context.Context, batchIndex int, texts []string, out []Outcome, offset int) {
	if err := e.batchPacer.Wait(ctx); err != nil {
		e.fail(out, err)
		return
	}

	vectors := make([][]float32, len(texts))
	var batchErr error
	for i, text := range texts {
		if isBlank(text) {
			continue
		}
		vec, err := e.client.Embed(ctx, text)
		if err != nil {
			batchErr = err
			break
		}
		vectors[i] = vec
	}

	if batchErr == nil {
		for i, text := range texts {
			if isBlank(text) {
				out[i] = Outcome{Err: ErrEmptyText}
				continue
			}
			out[i] = Outcome{Vector: vectors[i]}
		}
		return
	}

	e.logger.WithFields(logrus.Fields{
		"batch": batchIndex,
		"size":  len(texts),
	}).WithError(batchErr).Warn("Batch embedding failed, retrying items individually")
	e.noteRateLimit(batchErr)

	for i, text := range texts {
		if isBlank(text) {
			out[i] = Outcome{Err: ErrEmptyText}
			continue
		}

		if err := e.retryPacer.Wait(ctx); err != nil {
			e.fail(out[i:], err)
			return
		}

		vec, err := e.client.Embed(ctx, text)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"batch": batchIndex,
				"item":  offset + i,
			}).WithError(err).Error("Failed to embed item")
			e.noteRateLimit(err)
			out[i] = Outcome{Err: err}
			continue
		}
		out[i] = Outcome{Vector: vec}
	}
}

// fail 将剩余结果全部标记为失败
func (e *Engine) fail(out []Outcome, err error) {
	e.logger.WithError(err).WithField("items", len(out)).Error("Embedding interrupted")
	for i := range out {
		out[i] = Outcome{Err: err}
	}
}

func (e *Engine) noteRateLimit(err error) {
	if e.rateBackoff <= 0 {
		return
	}
	var embErr EmbeddingError
	if !errors.As(err, &embErr) || embErr.Code != ErrCodeRateLimited {
		return
	}
	if b, ok := e.batchPacer.(backoffer); ok {
		b.Backoff(e.rateBackoff)
	}
	if b, ok := e.retryPacer.(backoffer); ok {
		b.Backoff(e.rateBackoff)
	}
}

// batchRange 批次在输入中的区间
type batchRange struct {
	start int
	end   int
}

// splitIntoBatches 将n条文本划分为连续的批次
func splitIntoBatches(n, batchSize int) []batchRange {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([]batchRange, 0, (n+batchSize-1)/batchSize)
	for i := 0; i < n; i += batchSize {
		end := i + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, batchRange{start: i, end: end})
	}

	return batches
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Vectors 提取向量，失败的位置为空切片
func Vectors(outcomes []Outcome) [][]float32 {
	vectors := make([][]float32, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil || o.Vector == nil {
			vectors[i] = []float32{}
			continue
		}
		vectors[i] = o.Vector
	}
	return vectors
}

// Stats 嵌入结果统计
type Stats struct {
	Total     int // 总数
	Succeeded int // 得到非空向量的数量
	Empty     int // 调用成功但向量为空的数量
	Failed    int // 失败数量
	Dimension int // 第一个非空向量的维度
}

// Summarize 统计嵌入结果
func Summarize(outcomes []Outcome) Stats {
	stats := Stats{Total: len(outcomes)}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			stats.Failed++
		case len(o.Vector) == 0:
			stats.Empty++
		default:
			stats.Succeeded++
			if stats.Dimension == 0 {
				stats.Dimension = len(o.Vector)
			}
		}
	}
	return stats
}

// SuccessRate 得到非空向量的比例
func SuccessRate(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	return float64(Summarize(outcomes).Succeeded) / float64(len(outcomes))
}
