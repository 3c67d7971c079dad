package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/database"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// manifestRepository 写入清单仓储实现
type manifestRepository struct {
	db *gorm.DB // 数据库连接
}

// NewManifestRepository 使用全局数据库连接创建清单仓储
func NewManifestRepository() ManifestRepository {
	return &manifestRepository{db: database.MustDB()}
}

// NewManifestRepositoryWithDB 使用指定的数据库连接创建清单仓储
func NewManifestRepositoryWithDB(db *gorm.DB) ManifestRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &manifestRepository{db: db}
}

// IsCommitted 批次是否已提交
func (r *manifestRepository) IsCommitted(ctx context.Context, collection, fingerprint string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CommittedBatch{}).
		Where("collection = ? AND fingerprint = ?", collection, fingerprint).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkCommitted 记录已提交的批次
// 相同集合和指纹的记录已存在时不做任何修改
func (r *manifestRepository) MarkCommitted(ctx context.Context, batch *models.CommittedBatch) error {
	if batch == nil || batch.Collection == "" || batch.Fingerprint == "" {
		return errors.New("batch collection and fingerprint cannot be empty")
	}
	if batch.CommittedAt.IsZero() {
		batch.CommittedAt = time.Now()
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(batch).Error
}

// ListByCollection 按批次序号列出集合的已提交批次
func (r *manifestRepository) ListByCollection(ctx context.Context, collection string) ([]*models.CommittedBatch, error) {
	var batches []*models.CommittedBatch
	err := r.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("batch_index ASC, committed_at ASC").
		Find(&batches).Error
	return batches, err
}

// ListByRun 列出某次运行提交的批次
func (r *manifestRepository) ListByRun(ctx context.Context, runID string) ([]*models.CommittedBatch, error) {
	var batches []*models.CommittedBatch
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("batch_index ASC").
		Find(&batches).Error
	return batches, err
}

// DeleteCollection 删除集合的全部清单记录
func (r *manifestRepository) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("collection = ?", collection).
		Delete(&models.CommittedBatch{})
	return result.RowsAffected, result.Error
}
