package models

import (
	"time"

	"gorm.io/datatypes"
)

// Chunk 页面切分后的检索单元
type Chunk struct {
	ID         string // 全局唯一ID，url加全局计数器
	Text       string // 分块文本
	Index      int    // 在页面中的序号
	Total      int    // 页面分块总数
	CharLength int    // 字符数（按Unicode码点计）
	WordCount  int    // 单词数
}

// ItemMetadata 处理后条目的元数据
type ItemMetadata struct {
	URL           string         `json:"url"`
	Title         string         `json:"title"`
	Category      Category       `json:"category"`
	ChunkIndex    int            `json:"chunk_index"`
	TotalChunks   int            `json:"total_chunks"`
	ChunkSize     int            `json:"chunk_size"`
	WordCount     int            `json:"word_count"`
	FinancialInfo FinancialFacts `json:"financial_info"`
}

// ProcessedItem 中间文件中的条目
type ProcessedItem struct {
	ID       string       `json:"id"`
	Content  string       `json:"content"`
	Metadata ItemMetadata `json:"metadata"`
}

// EmbeddedItem 附带向量的条目，对应向量文件格式
type EmbeddedItem struct {
	ProcessedItem
	Embedding          []float32 `json:"embedding"`
	EmbeddingModel     string    `json:"embedding_model"`
	EmbeddingDimension int       `json:"embedding_dimension"`
	EmbeddingError     string    `json:"embedding_error,omitempty"`
}

// HasEmbedding 是否包含非空向量
func (e EmbeddedItem) HasEmbedding() bool {
	return e.EmbeddingError == "" && len(e.Embedding) > 0
}

// RecordMetadata 写入向量库的扁平元数据
type RecordMetadata struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Category  Category `json:"category"`
	WordCount int      `json:"word_count"`
}

// ToMap 转换为扁平map，供要求map元数据的存储使用
func (m RecordMetadata) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"url":        m.URL,
		"title":      m.Title,
		"category":   string(m.Category),
		"word_count": m.WordCount,
	}
}

// RecordMetadataFromMap 从扁平map还原元数据
// 数值可能以float64形式出现（JSON解码）
func RecordMetadataFromMap(m map[string]interface{}) RecordMetadata {
	var meta RecordMetadata
	if v, ok := m["url"].(string); ok {
		meta.URL = v
	}
	if v, ok := m["title"].(string); ok {
		meta.Title = v
	}
	if v, ok := m["category"].(string); ok {
		meta.Category = Category(v)
	}
	switch v := m["word_count"].(type) {
	case int:
		meta.WordCount = v
	case int64:
		meta.WordCount = int(v)
	case float64:
		meta.WordCount = int(v)
	}
	return meta
}

// IndexRecord 写入向量库的单元
// Embedding为空时由存储侧负责计算向量
type IndexRecord struct {
	ID        string
	Text      string
	Metadata  RecordMetadata
	Embedding []float32
}

// NewIndexRecord 从处理后的条目构建索引记录
func NewIndexRecord(item ProcessedItem) IndexRecord {
	return IndexRecord{
		ID:   item.ID,
		Text: item.Content,
		Metadata: RecordMetadata{
			URL:       item.Metadata.URL,
			Title:     item.Metadata.Title,
			Category:  item.Metadata.Category,
			WordCount: item.Metadata.WordCount,
		},
	}
}

// CommittedBatch 清单中已提交的写入批次
// 用于中断后从最后成功的批次继续
type CommittedBatch struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	Collection  string         `gorm:"not null;size:128;uniqueIndex:idx_collection_fingerprint"`
	Fingerprint string         `gorm:"not null;size:64;uniqueIndex:idx_collection_fingerprint"`
	RunID       string         `gorm:"size:50;index"`
	BatchIndex  int            `gorm:"not null"`
	StartOffset int            `gorm:"not null"`
	EndOffset   int            `gorm:"not null"`
	RecordCount int            `gorm:"not null"`
	RecordIDs   datatypes.JSON `gorm:"type:json"` // 批次内记录ID的JSON数组
	CommittedAt time.Time      `gorm:"not null;index"`
}

// TableName 明确指定表名
func (CommittedBatch) TableName() string {
	return "committed_batches"
}
