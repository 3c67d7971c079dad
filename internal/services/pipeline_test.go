package services

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/fyerfyer/aven-ingest/internal/embedding"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/fyerfyer/aven-ingest/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crawlFixture = `[{"page_info": [
	{"url": "https://aven.com/support/faq", "title": "FAQ", "content": "Our cash back is 2%. Call (555) 123-4567."},
	{"url": "https://aven.com/card", "title": "Card", "content": "No annual fees. Credit card with 7.99% APR."},
	{"url": "https://aven.com/blocked", "title": "Blocked", "content": "Your network appears to interfere with this page."},
	{"url": "https://staging.aven.com/card", "title": "Staging", "content": "Unreleased card terms."}
]}]`

type fixture struct {
	storage  storage.Storage
	embedder *mockEmbedder
	repo     vectordb.Repository
	store    *vectordb.Store
}

func newFixture(t *testing.T, input string, failing ...string) *fixture {
	t.Helper()

	s, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	if input != "" {
		_, err = s.Put(context.Background(), DefaultArtifacts().Input, strings.NewReader(input))
		require.NoError(t, err)
	}

	embedder := newMockEmbedder(failing...)
	cfg := vectordb.DefaultConfig()
	cfg.Embedder = embedder
	repo, err := vectordb.NewRepository(cfg)
	require.NoError(t, err)

	return &fixture{
		storage:  s,
		embedder: embedder,
		repo:     repo,
		store:    vectordb.NewStore(repo, vectordb.WithStoreLogger(quietLogger())),
	}
}

func (f *fixture) engine() *embedding.Engine {
	return embedding.NewEngine(f.embedder,
		embedding.WithEngineBatchSize(2),
		embedding.WithBatchPacer(embedding.NoopPacer()),
		embedding.WithRetryPacer(embedding.NoopPacer()),
		embedding.WithEngineLogger(quietLogger()),
	)
}

func (f *fixture) readArtifact(t *testing.T, key string, v interface{}) {
	t.Helper()
	r, err := f.storage.Get(context.Background(), key)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func stageNames(report *Report) []string {
	names := make([]string, 0, len(report.Stages))
	for _, s := range report.Stages {
		names = append(names, s.Name)
	}
	return names
}

// TestPipelineClientMode 测试完整的客户端向量模式
func TestPipelineClientMode(t *testing.T) {
	f := newFixture(t, crawlFixture)
	p := NewPipeline(f.storage, f.engine(), f.store, WithRunID("run-1"), WithLogger(quietLogger()))
	assert.Equal(t, ModeClient, p.Mode())

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Nil(t, report.Failed())
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, []string{StagePreprocess, StageEmbed, StageLoad, StageVerify}, stageNames(report))

	// 哨兵页面和staging页面被过滤
	assert.Equal(t, 2, report.Preprocess.TotalChunks)
	assert.Equal(t, map[string]int{"support": 1, "product_info": 1}, report.Preprocess.Categories)
	assert.Equal(t, 1, report.Preprocess.FinancialTerms["credit_card"])

	require.NotNil(t, report.Embedding)
	assert.Equal(t, 2, report.Embedding.ItemsWithEmbeddings)
	assert.Equal(t, 2, report.Embedding.Dimension)
	assert.Equal(t, "mock-embedding", report.Embedding.Model)
	assert.InDelta(t, 1.0, report.Embedding.SuccessRate, 1e-9)

	assert.Equal(t, 2, report.Collection.TotalItems)
	assert.Equal(t, "aven_financial_products", report.Collection.CollectionName)
	assert.Equal(t, 2, report.Hits)

	var processed []models.ProcessedItem
	f.readArtifact(t, DefaultArtifacts().Processed, &processed)
	require.Len(t, processed, 2)
	assert.Equal(t, "https://aven.com/support/faq_0", processed[0].ID)
	assert.Equal(t, "Our cash back is 2%. Call (555) 123-4567.", processed[0].Content)
	assert.Equal(t, models.CategorySupport, processed[0].Metadata.Category)
	assert.Equal(t, []string{"2%"}, processed[0].Metadata.FinancialInfo.Percentages)
	assert.Equal(t, []string{"(555) 123-4567"}, processed[0].Metadata.FinancialInfo.PhoneNumbers)
	assert.Equal(t, []string{"cash_back"}, processed[0].Metadata.FinancialInfo.TopicTags)
	assert.Equal(t, "https://aven.com/card_1", processed[1].ID)

	var embedded []models.EmbeddedItem
	f.readArtifact(t, DefaultArtifacts().Embeddings, &embedded)
	require.Len(t, embedded, 2)
	assert.Equal(t, "mock-embedding", embedded[0].EmbeddingModel)
	assert.Equal(t, 2, embedded[0].EmbeddingDimension)

	var summary models.EmbeddingSummary
	f.readArtifact(t, DefaultArtifacts().Summary, &summary)
	assert.Equal(t, 2, summary.TotalItems)

	// 测试查询的第一条是费用相关的页面
	results, err := p.Verify(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "https://aven.com/card_1", results[0].ID)
}

// TestPipelineRerunIdempotent 测试重复运行不增加记录数
func TestPipelineRerunIdempotent(t *testing.T) {
	f := newFixture(t, crawlFixture)

	for i := 0; i < 2; i++ {
		p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))
		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Collection.TotalItems)
	}
}

// TestPipelineRunTwice 测试同一个流水线重复运行时ID不变，记录被覆盖
func TestPipelineRunTwice(t *testing.T) {
	f := newFixture(t, crawlFixture)
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	var ids [][]string
	for i := 0; i < 2; i++ {
		report, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Collection.TotalItems)
		assert.Equal(t, 2, report.Preprocess.TotalChunks)

		var processed []models.ProcessedItem
		f.readArtifact(t, DefaultArtifacts().Processed, &processed)
		run := make([]string, 0, len(processed))
		for _, item := range processed {
			run = append(run, item.ID)
		}
		ids = append(ids, run)
	}

	assert.Equal(t, []string{"https://aven.com/support/faq_0", "https://aven.com/card_1"}, ids[0])
	assert.Equal(t, ids[0], ids[1])
}

// TestPipelineStoreMode 测试由向量库计算向量的模式
func TestPipelineStoreMode(t *testing.T) {
	f := newFixture(t, crawlFixture)
	p := NewPipeline(f.storage, nil, f.store, WithUpsertBatchSize(1), WithLogger(quietLogger()))
	assert.Equal(t, ModeStore, p.Mode())

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StagePreprocess, StageLoad, StageVerify}, stageNames(report))
	assert.Nil(t, report.Embedding)
	assert.Equal(t, 2, report.Upsert.Batches)
	assert.Equal(t, 2, report.Collection.TotalItems)

	exists, err := f.storage.Exists(context.Background(), DefaultArtifacts().Embeddings)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestPipelineEmbeddingFailure 测试单条向量失败不影响其他条目
func TestPipelineEmbeddingFailure(t *testing.T) {
	f := newFixture(t, crawlFixture, "Our cash back is 2%. Call (555) 123-4567.")
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Embedding)
	assert.Equal(t, 1, report.Embedding.ItemsWithEmbeddings)
	assert.Equal(t, 1, report.Embedding.FailedItems)
	assert.InDelta(t, 0.5, report.Embedding.SuccessRate, 1e-9)
	assert.Equal(t, 1, report.Collection.TotalItems)

	var embedded []models.EmbeddedItem
	f.readArtifact(t, DefaultArtifacts().Embeddings, &embedded)
	require.Len(t, embedded, 2)
	assert.NotEmpty(t, embedded[0].EmbeddingError)
	assert.Empty(t, embedded[0].Embedding)
	assert.False(t, embedded[0].HasEmbedding())
	assert.True(t, embedded[1].HasEmbedding())
}

// TestPipelineAllEmbeddingsFail 测试没有任何向量时停止
func TestPipelineAllEmbeddingsFail(t *testing.T) {
	f := newFixture(t, crawlFixture,
		"Our cash back is 2%. Call (555) 123-4567.",
		"No annual fees. Credit card with 7.99% APR.")
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrNoEmbeddings)
	assert.Equal(t, StageEmbed, report.Failed().Name)

	count, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestPipelineMissingInput 测试输入文件不存在时在预处理阶段停止
func TestPipelineMissingInput(t *testing.T) {
	f := newFixture(t, "")
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, models.ErrNoProcessedData)
	assert.False(t, report.OK())
	require.Len(t, report.Stages, 1)
	assert.Equal(t, StagePreprocess, report.Stages[0].Name)
	assert.Contains(t, report.Stages[0].Error, "no processed data")
	assert.Equal(t, 0, f.embedder.calls)
}

// TestPipelineMalformedInput 测试格式错误的输入
func TestPipelineMalformedInput(t *testing.T) {
	f := newFixture(t, `{"page_info": []}`)
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, models.ErrNoProcessedData)
	assert.Contains(t, err.Error(), "invalid input")
}

// TestPipelineEverythingFiltered 测试所有页面都被过滤
func TestPipelineEverythingFiltered(t *testing.T) {
	input := `[{"page_info": [
		{"url": "https://aven.com/a", "title": "A", "content": "The NETWORK APPEARS TO INTERFERE here."},
		{"url": "https://aven.com/internal/crypto", "title": "C", "content": "Secret"}
	]}]`
	f := newFixture(t, input)
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, models.ErrNoProcessedData)
	assert.Len(t, report.Stages, 1)

	exists, err := f.storage.Exists(context.Background(), DefaultArtifacts().Processed)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestPipelineStagesFromArtifacts 测试分阶段执行时读取已保存的产物
func TestPipelineStagesFromArtifacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crawlFixture)
	p := NewPipeline(f.storage, f.engine(), f.store, WithLogger(quietLogger()))

	_, err := p.Preprocess(ctx)
	require.NoError(t, err)

	items, err := p.ReadProcessed(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, _, err = p.Embed(ctx, items)
	require.NoError(t, err)

	embedded, err := p.ReadEmbedded(ctx)
	require.NoError(t, err)

	records := RecordsFromEmbedded(embedded)
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].Embedding)

	upsert, stats, err := p.Load(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, upsert.Committed)
	assert.Equal(t, 2, stats.TotalItems)
}

func TestSummarizeEmbeddings(t *testing.T) {
	items := []models.EmbeddedItem{
		{ProcessedItem: models.ProcessedItem{Metadata: models.ItemMetadata{Category: models.CategorySupport}}, Embedding: []float32{1, 2, 3}},
		{ProcessedItem: models.ProcessedItem{Metadata: models.ItemMetadata{Category: models.CategorySupport}}, EmbeddingError: "boom"},
		{ProcessedItem: models.ProcessedItem{Metadata: models.ItemMetadata{Category: models.CategoryEducation}}, Embedding: []float32{}},
	}

	summary := SummarizeEmbeddings(items, "m")
	assert.Equal(t, 3, summary.TotalItems)
	assert.Equal(t, 1, summary.ItemsWithEmbeddings)
	assert.Equal(t, 1, summary.FailedItems)
	assert.Equal(t, 3, summary.Dimension)
	assert.Equal(t, map[string]int{"support": 2, "education": 1}, summary.Categories)

	assert.Empty(t, SummarizeEmbeddings(nil, "m").Categories)
}
