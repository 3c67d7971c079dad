package repository

import (
	"context"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// ManifestRepository 写入清单仓储接口
// 记录已经提交到向量库的批次，满足vectordb.Manifest
type ManifestRepository interface {
	// IsCommitted 批次是否已提交
	IsCommitted(ctx context.Context, collection, fingerprint string) (bool, error)

	// MarkCommitted 记录已提交的批次，重复记录被忽略
	MarkCommitted(ctx context.Context, batch *models.CommittedBatch) error

	// ListByCollection 按批次序号列出集合的全部已提交批次
	ListByCollection(ctx context.Context, collection string) ([]*models.CommittedBatch, error)

	// ListByRun 列出某次运行提交的批次
	ListByRun(ctx context.Context, runID string) ([]*models.CommittedBatch, error)

	// DeleteCollection 清除集合的清单，用于重建索引
	DeleteCollection(ctx context.Context, collection string) (int64, error)
}
