package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/fyerfyer/aven-ingest/config"
	"github.com/fyerfyer/aven-ingest/internal/embedding"
	"github.com/fyerfyer/aven-ingest/internal/logging"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/fyerfyer/aven-ingest/internal/services"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crawlFixture = `[{"page_info": [
	{"url": "https://aven.com/support/faq", "title": "FAQ", "content": "Our cash back is 2%. Call (555) 123-4567."},
	{"url": "https://aven.com/card", "title": "Card", "content": "No annual fees. Credit card with 7.99% APR."},
	{"url": "https://aven.com/blocked", "title": "Blocked", "content": "Your network appears to interfere with this page."}
]}]`

func init() {
	color.NoColor = true
}

// fakeVector 含fee的文本指向第一个维度
func fakeVector(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "fee") {
		return []float32{1, 0.1}
	}
	return []float32{0.1, 1}
}

// newGeminiServer 模拟Gemini嵌入接口
func newGeminiServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string][]float32{"values": fakeVector(body.Content.Parts[0].Text)},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

// setupWorkspace 写入爬虫输出和配置文件，返回配置路径和存储目录
func setupWorkspace(t *testing.T, extra string) (string, string) {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	input := filepath.Join(dataDir, "firecrawl", "documents_1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0755))
	require.NoError(t, os.WriteFile(input, []byte(crawlFixture), 0644))

	cfg := fmt.Sprintf("storage:\n  path: %s\nlog:\n  level: error\n%s", dataDir, extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, dataDir
}

// executeCommand 执行命令并返回输出
func executeCommand(args ...string) (string, error) {
	configPath, logLevel, jsonOutput, queryK = "", "", false, vectordb.DefaultTopK
	manifestRunID = ""

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRunCommandClientMode(t *testing.T) {
	server := newGeminiServer(t)
	path, dataDir := setupWorkspace(t, fmt.Sprintf(`embed:
  api_key: test-key
  endpoint: %s
  batch_interval: 0s
  retry_interval: 0s
  max_retries: 0
`, server.URL))

	out, err := executeCommand("run", "--config", path)
	require.NoError(t, err, out)

	for _, stage := range []string{services.StagePreprocess, services.StageEmbed, services.StageLoad, services.StageVerify} {
		assert.Contains(t, out, "✓ "+stage)
	}
	assert.Contains(t, out, "Collection aven_financial_products: 2 items")

	data, err := os.ReadFile(filepath.Join(dataDir, "embeddings_output", "aven_embeddings_data.json"))
	require.NoError(t, err)
	var items []models.EmbeddedItem
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 2)
	for _, item := range items {
		assert.True(t, item.HasEmbedding())
		assert.Equal(t, 2, item.EmbeddingDimension)
	}

	_, err = os.Stat(filepath.Join(dataDir, "embeddings_output", "embeddings_summary.json"))
	assert.NoError(t, err)
}

func TestRunCommandJSON(t *testing.T) {
	server := newGeminiServer(t)
	path, _ := setupWorkspace(t, fmt.Sprintf("embed:\n  api_key: test-key\n  endpoint: %s\n  batch_interval: 0s\n", server.URL))

	out, err := executeCommand("run", "--config", path, "--json")
	require.NoError(t, err, out)

	var report services.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Stages, 4)
	assert.Equal(t, 2, report.Upsert.Records)
	assert.Equal(t, 2, report.Collection.TotalItems)
	assert.Equal(t, 2, report.Hits)
}

func TestRunCommandStoreModeWithoutEmbedder(t *testing.T) {
	path, _ := setupWorkspace(t, "embed:\n  mode: store\n")

	// 内存向量库没有embedder时无法执行文本查询
	out, err := executeCommand("run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage verify")
	assert.True(t, errors.Is(err, vectordb.ErrNoEmbedder))
	assert.Contains(t, out, "✓ "+services.StageLoad)
	assert.Contains(t, out, "✗ "+services.StageVerify)
}

func TestManifestCommands(t *testing.T) {
	server := newGeminiServer(t)
	dsn := filepath.Join(t.TempDir(), "manifest", "manifest.db")
	path, _ := setupWorkspace(t, fmt.Sprintf(`embed:
  api_key: test-key
  endpoint: %s
  batch_interval: 0s
manifest:
  enable: true
  dsn: %s
`, server.URL, dsn))

	out, err := executeCommand("run", "--config", path, "--json")
	require.NoError(t, err, out)
	var report services.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	listBatches := func(args ...string) []models.CommittedBatch {
		out, err := executeCommand(append([]string{"manifest", "list", "--config", path, "--json"}, args...)...)
		require.NoError(t, err, out)
		var batches []models.CommittedBatch
		require.NoError(t, json.Unmarshal([]byte(out), &batches))
		return batches
	}

	batches := listBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "aven_financial_products", batches[0].Collection)
	assert.Equal(t, 2, batches[0].RecordCount)
	assert.Equal(t, report.RunID, batches[0].RunID)

	assert.Len(t, listBatches("--run", report.RunID), 1)
	assert.Empty(t, listBatches("--run", "unknown-run"))

	out, err = executeCommand("manifest", "reset", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Removed 1 manifest entries")
	assert.Empty(t, listBatches())
}

func TestManifestCommandRequiresManifest(t *testing.T) {
	path, _ := setupWorkspace(t, "embed:\n  mode: store\n")

	_, err := executeCommand("manifest", "list", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest.enable=true")
}

func TestPreprocessCommand(t *testing.T) {
	path, dataDir := setupWorkspace(t, "embed:\n  mode: store\n")

	out, err := executeCommand("preprocess", "--config", path, "--json")
	require.NoError(t, err, out)

	var summary models.PreprocessSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.TotalChunks)

	_, err = os.Stat(filepath.Join(dataDir, "aven_processed_data.json"))
	assert.NoError(t, err)
}

func TestEmbedCommandRequiresClientMode(t *testing.T) {
	path, _ := setupWorkspace(t, "embed:\n  mode: store\n")

	_, err := executeCommand("embed", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed.mode=client")
}

func TestInvalidConfig(t *testing.T) {
	// client模式缺少API密钥
	path, _ := setupWorkspace(t, "")

	_, err := executeCommand("stats", "--config", path)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "embed.api_key")
}

func TestSetupPreprocessor(t *testing.T) {
	cfg := config.Default()
	cfg.Document.ChunkMode = "window"
	cfg.Document.ChunkSize = 20
	cfg.Document.ChunkOverlap = 5
	cfg.Document.MinChunkSize = 0

	pre := setupPreprocessor(cfg, logging.Discard())
	items := pre.Process([]models.RawPage{{
		URL:     "https://aven.com/card",
		Title:   "Card",
		Content: "No annual fees. Credit card with 7.99% APR and 2% cash back on every purchase.",
	}})

	require.Greater(t, len(items), 1)
	for i, item := range items {
		assert.Equal(t, i, item.Metadata.ChunkIndex)
		assert.Equal(t, len(items), item.Metadata.TotalChunks)
	}
}

func TestNewAppStoreMode(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Embed.Mode = "store"
	cfg.Log.Level = "error"

	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.client)
	assert.Equal(t, services.ModeStore, a.pipeline.Mode())
	assert.Equal(t, "aven_financial_products", a.store.Repository().Name())
}

func TestNewAppClosesEmbeddingCache(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Embed.APIKey = "test-key"
	cfg.Embed.Cache.Enable = true
	cfg.Log.Level = "error"

	a, err := newApp(cfg)
	require.NoError(t, err)

	// 向量库和缓存各注册一个释放函数
	assert.Len(t, a.closers, 2)
	assert.IsType(t, &embedding.CachedClient{}, a.client)
	a.Close()
	assert.Empty(t, a.closers)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 10))
	assert.Equal(t, "abc...", snippet("abcdef", 3))
	assert.Equal(t, "一二...", snippet("一二三四", 2))
}
