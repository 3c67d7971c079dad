package vectordb

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// DefaultUpsertBatchSize 默认写入批量大小
const DefaultUpsertBatchSize = 50

// Manifest 已提交批次的清单
// 用于中断后跳过已经写入的批次
type Manifest interface {
	IsCommitted(ctx context.Context, collection, fingerprint string) (bool, error)
	MarkCommitted(ctx context.Context, batch *models.CommittedBatch) error
}

// BatchError 某个写入批次失败
// 之前的批次已经提交，不会回滚
type BatchError struct {
	Index int // 批次序号
	Start int // 批次在输入中的起始位置
	End   int // 批次在输入中的结束位置（不含）
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d (records %d-%d) failed: %v", e.Index, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// UpsertReport 写入结果统计
type UpsertReport struct {
	Records   int `json:"records"`   // 输入记录数
	Batches   int `json:"batches"`   // 批次总数
	Committed int `json:"committed"` // 本次写入的批次数
	Skipped   int `json:"skipped"`   // 清单中已存在而跳过的批次数
}

// Store 向量库适配器
// 负责分批写入、统计和查询
type Store struct {
	repo     Repository
	manifest Manifest
	runID    string
	logger   *logrus.Logger
}

// StoreOption 适配器配置选项
type StoreOption func(*Store)

// NewStore 创建向量库适配器
func NewStore(repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo:   repo,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithManifest 设置写入清单
func WithManifest(m Manifest) StoreOption {
	return func(s *Store) {
		s.manifest = m
	}
}

// WithRunID 设置本次运行的ID，记录在清单中
func WithRunID(id string) StoreOption {
	return func(s *Store) {
		s.runID = id
	}
}

// WithStoreLogger 设置日志记录器
func WithStoreLogger(logger *logrus.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Repository 返回底层仓库
func (s *Store) Repository() Repository {
	return s.repo
}

// Upsert 按固定批量写入记录，每批一次后端调用
// 某批失败时立即返回，之前的批次保持已提交状态
func (s *Store) Upsert(ctx context.Context, records []models.IndexRecord, batchSize int) (UpsertReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}

	report := UpsertReport{Records: len(records)}
	collection := s.repo.Name()

	for index, start := 0, 0; start < len(records); index, start = index+1, start+batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		report.Batches++

		fingerprint := Fingerprint(batch)
		if s.manifest != nil {
			done, err := s.manifest.IsCommitted(ctx, collection, fingerprint)
			if err != nil {
				return report, &BatchError{Index: index, Start: start, End: end, Err: fmt.Errorf("manifest lookup: %w", err)}
			}
			if done {
				report.Skipped++
				s.logger.WithFields(logrus.Fields{
					"batch":      index,
					"collection": collection,
				}).Debug("Skipping batch already committed")
				continue
			}
		}

		if err := s.repo.Upsert(ctx, batch); err != nil {
			s.logger.WithFields(logrus.Fields{
				"batch":      index,
				"start":      start,
				"end":        end,
				"collection": collection,
			}).WithError(err).Error("Failed to upsert batch")
			return report, &BatchError{Index: index, Start: start, End: end, Err: err}
		}
		report.Committed++

		if s.manifest != nil {
			entry := &models.CommittedBatch{
				Collection:  collection,
				Fingerprint: fingerprint,
				RunID:       s.runID,
				BatchIndex:  index,
				StartOffset: start,
				EndOffset:   end,
				RecordCount: len(batch),
				RecordIDs:   recordIDs(batch),
				CommittedAt: time.Now(),
			}
			if err := s.manifest.MarkCommitted(ctx, entry); err != nil {
				// 批次已写入，清单写入失败只影响断点续传
				s.logger.WithError(err).WithField("batch", index).Warn("Failed to record committed batch")
			}
		}

		s.logger.WithFields(logrus.Fields{
			"batch":   index,
			"records": len(batch),
		}).Debug("Upserted batch")
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    report.Records,
		"committed":  report.Committed,
		"skipped":    report.Skipped,
	}).Info("Upsert completed")

	return report, nil
}

// Stats 返回集合统计信息
func (s *Store) Stats(ctx context.Context) (models.CollectionStats, error) {
	stats := models.CollectionStats{
		CollectionName: s.repo.Name(),
		Categories:     make(map[string]int),
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count records: %w", err)
	}
	stats.TotalItems = count

	records, err := s.repo.GetAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list records: %w", err)
	}
	for _, r := range records {
		stats.Categories[string(r.Metadata.Category)]++
	}

	return stats, nil
}

// Query 执行一次相似度搜索，结果原样返回
func (s *Store) Query(ctx context.Context, text string, k int) ([]SearchResult, error) {
	return s.repo.Query(ctx, Query{Text: text, K: k})
}

// Close 关闭底层仓库
func (s *Store) Close() error {
	return s.repo.Close()
}

// Fingerprint 计算批次指纹，覆盖记录ID、文本、元数据和向量
// 任一字段变化都会得到新的指纹，同一ID的新内容不会被清单跳过
func Fingerprint(batch []models.IndexRecord) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, r := range batch {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(r.Text))
		h.Write([]byte{0})

		// 结构体字段顺序固定，编码结果是确定的
		meta, _ := json.Marshal(r.Metadata)
		h.Write(meta)
		h.Write([]byte{0})

		for _, v := range r.Embedding {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			h.Write(buf)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func recordIDs(batch []models.IndexRecord) datatypes.JSON {
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
