package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/document"
	"github.com/fyerfyer/aven-ingest/internal/embedding"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/fyerfyer/aven-ingest/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 阶段名称
const (
	StagePreprocess = "preprocess"
	StageEmbed      = "embed"
	StageLoad       = "load"
	StageVerify     = "verify"
)

// EmbeddingMode 向量计算方式
type EmbeddingMode string

const (
	// ModeClient 由流水线调用嵌入模型，向量随记录写入
	ModeClient EmbeddingMode = "client"
	// ModeStore 只写入文本，由向量库侧计算向量
	ModeStore EmbeddingMode = "store"
)

const (
	// DefaultVerifyQuery 加载后的测试查询
	DefaultVerifyQuery = "credit card fees"
	// DefaultVerifyK 测试查询返回的结果数
	DefaultVerifyK = 3
)

// ErrNoEmbeddings 没有任何条目得到向量
var ErrNoEmbeddings = errors.New("no item received an embedding")

// Artifacts 流水线产物在存储中的键
type Artifacts struct {
	Input      string // 爬虫输出文件
	Processed  string // 预处理结果
	Embeddings string // 带向量的条目
	Summary    string // 向量生成统计
}

// DefaultArtifacts 返回默认产物键
func DefaultArtifacts() Artifacts {
	return Artifacts{
		Input:      "firecrawl/documents_1.json",
		Processed:  "aven_processed_data.json",
		Embeddings: "embeddings_output/aven_embeddings_data.json",
		Summary:    "embeddings_output/embeddings_summary.json",
	}
}

// StageResult 单个阶段的执行结果
type StageResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// Report 一次流水线运行的结果
type Report struct {
	RunID      string                   `json:"run_id"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Stages     []StageResult            `json:"stages"`
	Preprocess models.PreprocessSummary `json:"preprocess"`
	Embedding  *models.EmbeddingSummary `json:"embedding,omitempty"`
	Upsert     vectordb.UpsertReport    `json:"upsert"`
	Collection models.CollectionStats   `json:"collection"`
	Hits       int                      `json:"verify_hits"`
}

// OK 所有阶段是否成功
func (r *Report) OK() bool {
	for _, s := range r.Stages {
		if !s.OK {
			return false
		}
	}
	return len(r.Stages) > 0
}

// Failed 返回第一个失败的阶段
func (r *Report) Failed() *StageResult {
	for i := range r.Stages {
		if !r.Stages[i].OK {
			return &r.Stages[i]
		}
	}
	return nil
}

// Pipeline 数据处理流水线
// 依次执行预处理、向量生成、向量库加载和查询验证
type Pipeline struct {
	storage         storage.Storage        // 产物存储
	preprocessor    *document.Preprocessor // 预处理器
	engine          *embedding.Engine      // 批量嵌入引擎，store模式下为nil
	store           *vectordb.Store        // 向量库适配器
	mode            EmbeddingMode          // 向量计算方式
	artifacts       Artifacts              // 产物键
	upsertBatchSize int                    // 写入批量大小
	verifyQuery     string                 // 测试查询
	verifyK         int                    // 测试查询结果数
	runID           string                 // 运行ID
	logger          *logrus.Logger         // 日志记录器
}

// PipelineOption 流水线配置选项
type PipelineOption func(*Pipeline)

// NewPipeline 创建流水线
// engine为nil时使用store模式
func NewPipeline(
	store storage.Storage,
	engine *embedding.Engine,
	vectorStore *vectordb.Store,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		storage:         store,
		engine:          engine,
		store:           vectorStore,
		mode:            ModeStore,
		artifacts:       DefaultArtifacts(),
		upsertBatchSize: vectordb.DefaultUpsertBatchSize,
		verifyQuery:     DefaultVerifyQuery,
		verifyK:         DefaultVerifyK,
		runID:           uuid.New().String(),
		logger:          logrus.New(),
	}
	if engine != nil {
		p.mode = ModeClient
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.preprocessor == nil {
		p.preprocessor = document.NewPreprocessor(document.WithLogger(p.logger))
	}

	return p
}

// WithPreprocessor 设置预处理器
func WithPreprocessor(pre *document.Preprocessor) PipelineOption {
	return func(p *Pipeline) {
		p.preprocessor = pre
	}
}

// WithArtifacts 设置产物键
func WithArtifacts(a Artifacts) PipelineOption {
	return func(p *Pipeline) {
		defaults := DefaultArtifacts()
		if a.Input == "" {
			a.Input = defaults.Input
		}
		if a.Processed == "" {
			a.Processed = defaults.Processed
		}
		if a.Embeddings == "" {
			a.Embeddings = defaults.Embeddings
		}
		if a.Summary == "" {
			a.Summary = defaults.Summary
		}
		p.artifacts = a
	}
}

// WithUpsertBatchSize 设置写入批量大小
func WithUpsertBatchSize(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.upsertBatchSize = size
		}
	}
}

// WithVerifyQuery 设置测试查询
func WithVerifyQuery(query string, k int) PipelineOption {
	return func(p *Pipeline) {
		if query != "" {
			p.verifyQuery = query
		}
		if k > 0 {
			p.verifyK = k
		}
	}
}

// WithRunID 设置运行ID
func WithRunID(id string) PipelineOption {
	return func(p *Pipeline) {
		if id != "" {
			p.runID = id
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Mode 返回向量计算方式
func (p *Pipeline) Mode() EmbeddingMode {
	return p.mode
}

// RunID 返回运行ID
func (p *Pipeline) RunID() string {
	return p.runID
}

// Run 按顺序执行全部阶段，遇到第一个失败的阶段即停止
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     p.runID,
		StartedAt: time.Now(),
	}
	defer func() {
		report.FinishedAt = time.Now()
	}()

	p.logger.WithFields(logrus.Fields{
		"run_id": p.runID,
		"mode":   p.mode,
	}).Info("Starting ingest pipeline")

	var items []models.ProcessedItem
	ok := p.stage(report, StagePreprocess, func() (string, error) {
		var err error
		items, err = p.Preprocess(ctx)
		if err != nil {
			return "", err
		}
		report.Preprocess = document.Summarize(items)
		return fmt.Sprintf("processed %d chunks with %d total words",
			report.Preprocess.TotalChunks, report.Preprocess.TotalWords), nil
	})
	if !ok {
		return report, report.Failed().Err
	}

	records := RecordsFromProcessed(items)
	if p.mode == ModeClient {
		ok = p.stage(report, StageEmbed, func() (string, error) {
			embedded, summary, err := p.Embed(ctx, items)
			if err != nil {
				return "", err
			}
			report.Embedding = &summary
			records = RecordsFromEmbedded(embedded)
			return fmt.Sprintf("generated embeddings for %d of %d items (%.2f%%), dimension %d",
				summary.ItemsWithEmbeddings, summary.TotalItems, summary.SuccessRate*100, summary.Dimension), nil
		})
		if !ok {
			return report, report.Failed().Err
		}
	}

	ok = p.stage(report, StageLoad, func() (string, error) {
		upsert, stats, err := p.Load(ctx, records)
		report.Upsert = upsert
		if err != nil {
			return "", err
		}
		report.Collection = stats
		return fmt.Sprintf("stored %d items in collection %s", stats.TotalItems, stats.CollectionName), nil
	})
	if !ok {
		return report, report.Failed().Err
	}

	ok = p.stage(report, StageVerify, func() (string, error) {
		results, err := p.Verify(ctx)
		if err != nil {
			return "", err
		}
		report.Hits = len(results)
		return fmt.Sprintf("test query %q found %d results", p.verifyQuery, len(results)), nil
	})
	if !ok {
		return report, report.Failed().Err
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":   p.runID,
		"duration": time.Since(report.StartedAt).String(),
	}).Info("Pipeline completed successfully")

	return report, nil
}

// stage 执行单个阶段并记录结果
func (p *Pipeline) stage(report *Report, name string, fn func() (string, error)) bool {
	start := time.Now()
	detail, err := fn()
	result := StageResult{
		Name:     name,
		OK:       err == nil,
		Err:      err,
		Duration: time.Since(start),
		Detail:   detail,
	}
	if err != nil {
		result.Error = err.Error()
	}
	report.Stages = append(report.Stages, result)

	fields := logrus.Fields{
		"stage":    name,
		"run_id":   p.runID,
		"duration": result.Duration.String(),
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Errorf("Stage %s failed", name)
		return false
	}
	p.logger.WithFields(fields).Infof("Stage %s completed: %s", name, detail)
	return true
}

// Preprocess 读取爬虫输出并生成预处理结果
// 输入无法解析时记录错误，结果为空集合
func (p *Pipeline) Preprocess(ctx context.Context) ([]models.ProcessedItem, error) {
	pages, err := p.readInput(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("input", p.artifacts.Input).Error("Failed to load input pages")
		pages = nil
	}

	// 每次预处理产生一个新的数据集合，ID从头编号，重复运行时覆盖同一批记录
	p.preprocessor.Reset()
	items := p.preprocessor.Process(pages)
	if len(items) == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrNoProcessedData, err)
		}
		return nil, models.ErrNoProcessedData
	}

	if err := p.writeJSON(ctx, p.artifacts.Processed, items); err != nil {
		return nil, err
	}

	summary := p.preprocessor.Summary()
	p.logger.WithFields(logrus.Fields{
		"chunks":     summary.TotalChunks,
		"words":      summary.TotalWords,
		"categories": summary.Categories,
	}).Info("Preprocessing finished")

	return items, nil
}

// Embed 为条目计算向量并写入向量文件和统计文件
func (p *Pipeline) Embed(ctx context.Context, items []models.ProcessedItem) ([]models.EmbeddedItem, models.EmbeddingSummary, error) {
	if p.engine == nil {
		return nil, models.EmbeddingSummary{}, errors.New("embedding engine is not configured")
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Content
	}

	outcomes := p.engine.EmbedAll(ctx, texts)
	model := p.engine.Model()

	embedded := make([]models.EmbeddedItem, len(items))
	for i, item := range items {
		e := models.EmbeddedItem{
			ProcessedItem:  item,
			Embedding:      []float32{},
			EmbeddingModel: model,
		}
		if outcomes[i].OK() {
			if outcomes[i].Vector != nil {
				e.Embedding = outcomes[i].Vector
			}
			e.EmbeddingDimension = len(e.Embedding)
		} else {
			e.EmbeddingError = outcomes[i].Err.Error()
		}
		embedded[i] = e
	}

	summary := SummarizeEmbeddings(embedded, model)

	if err := p.writeJSON(ctx, p.artifacts.Embeddings, embedded); err != nil {
		return nil, summary, err
	}
	if err := p.writeJSON(ctx, p.artifacts.Summary, summary); err != nil {
		return nil, summary, err
	}

	if summary.ItemsWithEmbeddings == 0 {
		return embedded, summary, ErrNoEmbeddings
	}
	return embedded, summary, nil
}

// Load 分批写入向量库并返回集合统计
func (p *Pipeline) Load(ctx context.Context, records []models.IndexRecord) (vectordb.UpsertReport, models.CollectionStats, error) {
	report, err := p.store.Upsert(ctx, records, p.upsertBatchSize)
	if err != nil {
		return report, models.CollectionStats{}, err
	}

	stats, err := p.store.Stats(ctx)
	if err != nil {
		return report, stats, err
	}

	p.logger.WithFields(logrus.Fields{
		"collection": stats.CollectionName,
		"total":      stats.TotalItems,
		"categories": stats.Categories,
	}).Info("Collection statistics")

	return report, stats, nil
}

// Verify 执行测试查询，没有结果只记录警告
func (p *Pipeline) Verify(ctx context.Context) ([]vectordb.SearchResult, error) {
	results, err := p.store.Query(ctx, p.verifyQuery, p.verifyK)
	if err != nil {
		return nil, fmt.Errorf("test query failed: %w", err)
	}
	if len(results) == 0 {
		p.logger.WithField("query", p.verifyQuery).Warn("Test query returned no results")
	}
	return results, nil
}

// ReadProcessed 读取已保存的预处理结果
func (p *Pipeline) ReadProcessed(ctx context.Context) ([]models.ProcessedItem, error) {
	var items []models.ProcessedItem
	if err := p.readJSON(ctx, p.artifacts.Processed, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ReadEmbedded 读取已保存的向量文件
func (p *Pipeline) ReadEmbedded(ctx context.Context) ([]models.EmbeddedItem, error) {
	var items []models.EmbeddedItem
	if err := p.readJSON(ctx, p.artifacts.Embeddings, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RecordsFromProcessed 构建不带向量的索引记录
func RecordsFromProcessed(items []models.ProcessedItem) []models.IndexRecord {
	records := make([]models.IndexRecord, 0, len(items))
	for _, item := range items {
		records = append(records, models.NewIndexRecord(item))
	}
	return records
}

// RecordsFromEmbedded 构建带向量的索引记录，跳过没有向量的条目
func RecordsFromEmbedded(items []models.EmbeddedItem) []models.IndexRecord {
	records := make([]models.IndexRecord, 0, len(items))
	for _, item := range items {
		if !item.HasEmbedding() {
			continue
		}
		record := models.NewIndexRecord(item.ProcessedItem)
		record.Embedding = item.Embedding
		records = append(records, record)
	}
	return records
}

// SummarizeEmbeddings 统计向量生成结果
func SummarizeEmbeddings(items []models.EmbeddedItem, model string) models.EmbeddingSummary {
	summary := models.EmbeddingSummary{
		TotalItems: len(items),
		Model:      model,
		Categories: make(map[string]int),
	}
	for _, item := range items {
		summary.Categories[string(item.Metadata.Category)]++
		switch {
		case item.HasEmbedding():
			summary.ItemsWithEmbeddings++
			if summary.Dimension == 0 {
				summary.Dimension = len(item.Embedding)
			}
		case item.EmbeddingError != "":
			summary.FailedItems++
		}
	}
	if summary.TotalItems > 0 {
		summary.SuccessRate = float64(summary.ItemsWithEmbeddings) / float64(summary.TotalItems)
	}
	return summary
}

func (p *Pipeline) readInput(ctx context.Context) ([]models.RawPage, error) {
	r, err := p.storage.Get(ctx, p.artifacts.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", p.artifacts.Input, err)
	}
	defer r.Close()

	return document.LoadPages(r)
}

func (p *Pipeline) readJSON(ctx context.Context, key string, v interface{}) error {
	r, err := p.storage.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (p *Pipeline) writeJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	info, err := p.storage.Put(ctx, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	p.logger.WithFields(logrus.Fields{
		"key":  info.Key,
		"size": info.Size,
	}).Debug("Saved artifact")
	return nil
}
