package vectordb

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
)

// 常用错误定义
var (
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid record ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
	ErrNoEmbedder       = errors.New("no embedder configured for records without vectors")
	ErrEmptyQuery       = errors.New("query has neither text nor vector")
)

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// DefaultTopK 查询未指定数量时返回的结果数
const DefaultTopK = 5

// Embedder 为缺少向量的记录和文本查询计算向量
// embedding.Client 满足该接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryEmbedder 为查询文本单独计算向量的Embedder
// 实现该接口时文本查询使用EmbedQuery
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Query 相似度查询
// Vector为空时使用Text计算查询向量
type Query struct {
	Text   string
	Vector []float32
	K      int
}

// SearchResult 搜索结果
type SearchResult struct {
	ID       string                `json:"id"`
	Text     string                `json:"text"`
	Metadata models.RecordMetadata `json:"metadata"`
	Score    float32               `json:"score"`    // 相似度得分
	Distance float32               `json:"distance"` // 计算的距离
}

// Repository 向量数据库仓库接口
type Repository interface {
	// Upsert 写入记录，ID已存在时覆盖
	Upsert(ctx context.Context, records []models.IndexRecord) error

	// Count 获取记录总数
	Count(ctx context.Context) (int, error)

	// GetAll 获取全部记录
	GetAll(ctx context.Context) ([]models.IndexRecord, error)

	// Query 相似度搜索
	Query(ctx context.Context, q Query) ([]SearchResult, error)

	// Name 返回集合名称
	Name() string

	// Close 关闭数据库连接
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type         string         // 数据库类型，如 "memory", "chroma", "pgvector"
	Collection   string         // 集合名称
	Endpoint     string         // 服务地址 (chroma)
	APIKey       string         // 访问令牌 (chroma)
	Tenant       string         // 租户 (chroma)
	Database     string         // 数据库 (chroma)
	DSN          string         // 连接串 (pgvector)
	Dimension    int            // 向量维度，0表示由第一条记录决定
	DistanceType DistanceType   // 距离计算类型
	Timeout      time.Duration  // 请求超时时间
	Embedder     Embedder       // 可选，为缺少向量的记录计算向量
	Logger       *logrus.Logger // 日志记录器
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Type:         "memory",
		Collection:   "aven_financial_products",
		DistanceType: Cosine,
		Timeout:      30 * time.Second,
	}
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例
func NewRepository(config Config) (Repository, error) {
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		// 默认使用内存实现
		factory = NewMemoryRepository
	}
	return factory(config)
}
