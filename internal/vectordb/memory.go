package vectordb

import (
	"context"
	"fmt"
	"sync"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// MemoryRepository 内存向量仓库实现
// 用于开发和测试环境，记录按ID覆盖，保留首次写入的顺序
type MemoryRepository struct {
	mu         sync.RWMutex
	collection string
	dimension  int
	distType   DistanceType
	embedder   Embedder
	records    map[string]models.IndexRecord
	order      []string
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	collection := config.Collection
	if collection == "" {
		collection = DefaultConfig().Collection
	}

	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	if _, err := ComputeDistance(nil, nil, distType); err != nil {
		return nil, err
	}

	return &MemoryRepository{
		collection: collection,
		dimension:  config.Dimension,
		distType:   distType,
		embedder:   config.Embedder,
		records:    make(map[string]models.IndexRecord),
	}, nil
}

// Name 返回集合名称
func (m *MemoryRepository) Name() string {
	return m.collection
}

// Upsert 写入记录
// 整批校验通过后才会写入，ID已存在时覆盖原记录
func (m *MemoryRepository) Upsert(ctx context.Context, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateIDs(records); err != nil {
		return err
	}

	if m.embedder != nil {
		filled, err := fillMissingVectors(ctx, m.embedder, records)
		if err != nil {
			return err
		}
		records = filled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dimension
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		if err := ValidateVector(r.Embedding, dim); err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
	}
	m.dimension = dim

	for _, r := range records {
		if _, exists := m.records[r.ID]; !exists {
			m.order = append(m.order, r.ID)
		}
		m.records[r.ID] = cloneRecord(r)
	}

	return nil
}

// Count 获取记录总数
func (m *MemoryRepository) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// GetAll 按写入顺序返回全部记录
func (m *MemoryRepository) GetAll(_ context.Context) ([]models.IndexRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.IndexRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, cloneRecord(m.records[id]))
	}
	return out, nil
}

// Query 相似度搜索，跳过没有向量的记录
func (m *MemoryRepository) Query(ctx context.Context, q Query) ([]SearchResult, error) {
	vec, err := queryVector(ctx, m.embedder, q)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension > 0 && len(vec) != m.dimension {
		return nil, fmt.Errorf("query: %w: expected %d, got %d", ErrInvalidDimension, m.dimension, len(vec))
	}

	results := make([]SearchResult, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		if len(r.Embedding) == 0 {
			continue
		}
		dist, err := ComputeDistance(vec, r.Embedding, m.distType)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Score:    DistanceToScore(dist, m.distType),
			Distance: dist,
		})
	}

	SortSearchResults(results)

	if k := topK(q.K); len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Close 内存仓库无需释放资源
func (m *MemoryRepository) Close() error {
	return nil
}

func cloneRecord(r models.IndexRecord) models.IndexRecord {
	if r.Embedding != nil {
		vec := make([]float32, len(r.Embedding))
		copy(vec, r.Embedding)
		r.Embedding = vec
	}
	return r
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
