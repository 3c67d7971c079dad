package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// ComputeDistance 计算两个向量间的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrInvalidDimension, len(v1), len(v2))
	}

	switch distType {
	case Cosine, "":
		return cosineDistance(v1, v2), nil
	case DotProduct:
		// 点积越大越相似，取负数作为距离
		return -dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 计算余弦距离
func cosineDistance(v1, v2 []float32) float32 {
	// 余弦距离 = 1 - 点积 / (||v1|| * ||v2||)
	dot := dotProduct(v1, v2)
	norm1 := vectorNorm(v1)
	norm2 := vectorNorm(v2)

	if norm1 == 0 || norm2 == 0 {
		return 1.0 // 最大距离
	}

	similarity := dot / (norm1 * norm2)
	// 处理浮点精度问题
	if similarity > 1.0 {
		similarity = 1.0
	}

	return 1.0 - similarity
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// euclideanDistance 计算欧几里德距离
func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// DistanceToScore 将距离转换为评分，越大越相似
func DistanceToScore(distance float32, distType DistanceType) float32 {
	switch distType {
	case Cosine, "":
		return 1 - distance
	case DotProduct:
		return -distance
	case Euclidean:
		// 高斯衰减，距离越小分数越高
		return float32(math.Exp(-float64(distance)))
	default:
		return 0
	}
}

// SortSearchResults 按相似度评分降序排序，评分相同时保持原有顺序
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}

	return nil
}

// fillMissingVectors 为没有向量的记录计算向量，返回新的切片
func fillMissingVectors(ctx context.Context, embedder Embedder, records []models.IndexRecord) ([]models.IndexRecord, error) {
	out := make([]models.IndexRecord, len(records))
	copy(out, records)

	for i := range out {
		if len(out[i].Embedding) > 0 {
			continue
		}
		if embedder == nil {
			return nil, fmt.Errorf("record %s: %w", out[i].ID, ErrNoEmbedder)
		}
		vec, err := embedder.Embed(ctx, out[i].Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed record %s: %w", out[i].ID, err)
		}
		out[i].Embedding = vec
	}

	return out, nil
}

// queryVector 返回查询向量，必要时使用embedder计算
func queryVector(ctx context.Context, embedder Embedder, q Query) ([]float32, error) {
	if len(q.Vector) > 0 {
		return q.Vector, nil
	}
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}

	embed := embedder.Embed
	if qe, ok := embedder.(QueryEmbedder); ok {
		embed = qe.EmbedQuery
	}
	vec, err := embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vec, nil
}

// topK 返回有效的结果数
func topK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

// validateIDs 检查记录ID非空
func validateIDs(records []models.IndexRecord) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d: %w", i, ErrInvalidID)
		}
	}
	return nil
}
