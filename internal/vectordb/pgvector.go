package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/database"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pgRecord pgvector中保存的记录
type pgRecord struct {
	Collection string          `gorm:"primaryKey;size:128"`
	ID         string          `gorm:"primaryKey;size:512"`
	Text       string          `gorm:"type:text"`
	URL        string          `gorm:"size:1024"`
	Title      string          `gorm:"size:512"`
	Category   string          `gorm:"size:64;index"`
	WordCount  int             `gorm:"not null;default:0"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

// TableName 明确指定表名
func (pgRecord) TableName() string {
	return "vector_records"
}

// scoredRecord 带距离的查询结果
type scoredRecord struct {
	pgRecord
	Distance float32
}

// PGVectorRepository 基于PostgreSQL pgvector扩展的向量仓库
type PGVectorRepository struct {
	db         *gorm.DB
	collection string
	distType   DistanceType
	embedder   Embedder
}

// NewPGVectorRepository 连接数据库并确保扩展和表已创建
func NewPGVectorRepository(config Config) (Repository, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("pgvector repository requires a DSN")
	}

	db, err := database.Open(&database.Config{
		Type:         "postgres",
		DSN:          config.DSN,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		MaxLifetime:  time.Hour,
	}, config.Logger)
	if err != nil {
		return nil, err
	}

	return NewPGVectorRepositoryWithDB(db, config)
}

// NewPGVectorRepositoryWithDB 使用已有连接创建仓库
func NewPGVectorRepositoryWithDB(db *gorm.DB, config Config) (Repository, error) {
	collection := config.Collection
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	if _, err := pgDistanceOperator(distType); err != nil {
		return nil, err
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&pgRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vector table: %w", err)
	}

	return &PGVectorRepository{
		db:         db,
		collection: collection,
		distType:   distType,
		embedder:   config.Embedder,
	}, nil
}

// Name 返回集合名称
func (r *PGVectorRepository) Name() string {
	return r.collection
}

// Upsert 写入记录，主键冲突时更新全部字段
func (r *PGVectorRepository) Upsert(ctx context.Context, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateIDs(records); err != nil {
		return err
	}

	records, err := fillMissingVectors(ctx, r.embedder, records)
	if err != nil {
		return err
	}

	rows := make([]pgRecord, 0, len(records))
	for _, rec := range records {
		rows = append(rows, pgRecord{
			Collection: r.collection,
			ID:         rec.ID,
			Text:       rec.Text,
			URL:        rec.Metadata.URL,
			Title:      rec.Metadata.Title,
			Category:   string(rec.Metadata.Category),
			WordCount:  rec.Metadata.WordCount,
			Embedding:  pgvector.NewVector(rec.Embedding),
		})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
}

// Count 获取集合中的记录数
func (r *PGVectorRepository) Count(ctx context.Context) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&pgRecord{}).
		Where("collection = ?", r.collection).
		Count(&count).Error
	return int(count), err
}

// GetAll 获取集合中的全部记录
func (r *PGVectorRepository) GetAll(ctx context.Context) ([]models.IndexRecord, error) {
	var rows []pgRecord
	err := r.db.WithContext(ctx).
		Where("collection = ?", r.collection).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.IndexRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// Query 相似度搜索
func (r *PGVectorRepository) Query(ctx context.Context, q Query) ([]SearchResult, error) {
	vec, err := queryVector(ctx, r.embedder, q)
	if err != nil {
		return nil, err
	}

	op, err := pgDistanceOperator(r.distType)
	if err != nil {
		return nil, err
	}

	var rows []scoredRecord
	queryVec := pgvector.NewVector(vec)
	err = r.db.WithContext(ctx).
		Table(pgRecord{}.TableName()).
		Select(fmt.Sprintf("*, embedding %s ? AS distance", op), queryVec).
		Where("collection = ?", r.collection).
		Order(gorm.Expr(fmt.Sprintf("embedding %s ?", op), queryVec)).
		Limit(topK(q.K)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		rec := row.toRecord()
		results = append(results, SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    DistanceToScore(row.Distance, r.distType),
			Distance: row.Distance,
		})
	}
	return results, nil
}

// Close 关闭数据库连接
func (r *PGVectorRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (row pgRecord) toRecord() models.IndexRecord {
	return models.IndexRecord{
		ID:   row.ID,
		Text: row.Text,
		Metadata: models.RecordMetadata{
			URL:       row.URL,
			Title:     row.Title,
			Category:  models.Category(row.Category),
			WordCount: row.WordCount,
		},
		Embedding: row.Embedding.Slice(),
	}
}

// pgDistanceOperator 距离类型对应的pgvector运算符
// <#> 返回负的内积，与ComputeDistance的点积约定一致
func pgDistanceOperator(distType DistanceType) (string, error) {
	switch distType {
	case Cosine:
		return "<=>", nil
	case Euclidean:
		return "<->", nil
	case DotProduct:
		return "<#>", nil
	default:
		return "", fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// 在包初始化时注册pgvector仓库
func init() {
	RegisterRepository("pgvector", NewPGVectorRepository)
}
