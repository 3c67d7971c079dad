package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultChromaEndpoint = "http://localhost:8000"
	defaultChromaTenant   = "default_tenant"
	defaultChromaDatabase = "default_database"

	// chromaPageSize GetAll分页大小
	chromaPageSize = 500
)

// APIError Chroma接口返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chroma API error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// chromaCollection 创建或获取集合的响应
type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaUpsertRequest struct {
	IDs        []string                 `json:"ids"`
	Documents  []string                 `json:"documents"`
	Metadatas  []map[string]interface{} `json:"metadatas"`
	Embeddings [][]float32              `json:"embeddings"`
}

type chromaGetRequest struct {
	Include []string `json:"include"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

type chromaGetResponse struct {
	IDs       []string                 `json:"ids"`
	Documents []string                 `json:"documents"`
	Metadatas []map[string]interface{} `json:"metadatas"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string                 `json:"ids"`
	Documents [][]string                 `json:"documents"`
	Metadatas [][]map[string]interface{} `json:"metadatas"`
	Distances [][]float32                `json:"distances"`
}

// ChromaRepository 基于Chroma v2 HTTP接口的向量仓库
type ChromaRepository struct {
	client       *http.Client
	baseURL      string // 包含租户和数据库的接口前缀
	apiKey       string
	collection   string
	collectionID string
	distType     DistanceType
	embedder     Embedder
	logger       *logrus.Logger
}

// NewChromaRepository 创建Chroma仓库，集合不存在时自动创建
func NewChromaRepository(config Config) (Repository, error) {
	endpoint := strings.TrimRight(config.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultChromaEndpoint
	}
	tenant := config.Tenant
	if tenant == "" {
		tenant = defaultChromaTenant
	}
	database := config.Database
	if database == "" {
		database = defaultChromaDatabase
	}
	collection := config.Collection
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}

	repo := &ChromaRepository{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s",
			endpoint, url.PathEscape(tenant), url.PathEscape(database)),
		apiKey:     config.APIKey,
		collection: collection,
		distType:   distType,
		embedder:   config.Embedder,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := repo.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

// ensureCollection 创建或获取集合
func (c *ChromaRepository) ensureCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"name":          c.collection,
		"get_or_create": true,
		"metadata":      map[string]interface{}{"hnsw:space": chromaSpace(c.distType)},
	}

	var coll chromaCollection
	if err := c.post(ctx, "/collections", body, &coll); err != nil {
		return fmt.Errorf("failed to get or create collection %s: %w", c.collection, err)
	}
	if coll.ID == "" {
		return fmt.Errorf("chroma returned no id for collection %s", c.collection)
	}

	c.collectionID = coll.ID
	c.logger.WithFields(logrus.Fields{
		"collection": c.collection,
		"id":         c.collectionID,
	}).Info("Connected to Chroma collection")
	return nil
}

// Name 返回集合名称
func (c *ChromaRepository) Name() string {
	return c.collection
}

// Upsert 写入记录，缺少向量的记录由embedder计算
func (c *ChromaRepository) Upsert(ctx context.Context, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateIDs(records); err != nil {
		return err
	}

	records, err := fillMissingVectors(ctx, c.embedder, records)
	if err != nil {
		return err
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(records)),
		Documents:  make([]string, len(records)),
		Metadatas:  make([]map[string]interface{}, len(records)),
		Embeddings: make([][]float32, len(records)),
	}
	for i, r := range records {
		req.IDs[i] = r.ID
		req.Documents[i] = r.Text
		req.Metadatas[i] = r.Metadata.ToMap()
		req.Embeddings[i] = r.Embedding
	}

	return c.post(ctx, c.collectionPath("/upsert"), req, nil)
}

// Count 获取记录总数
func (c *ChromaRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.do(ctx, http.MethodGet, c.collectionPath("/count"), nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetAll 分页获取全部记录，不包含向量
func (c *ChromaRepository) GetAll(ctx context.Context) ([]models.IndexRecord, error) {
	var out []models.IndexRecord
	for offset := 0; ; offset += chromaPageSize {
		var resp chromaGetResponse
		req := chromaGetRequest{
			Include: []string{"documents", "metadatas"},
			Limit:   chromaPageSize,
			Offset:  offset,
		}
		if err := c.post(ctx, c.collectionPath("/get"), req, &resp); err != nil {
			return nil, err
		}

		for i, id := range resp.IDs {
			record := models.IndexRecord{ID: id}
			if i < len(resp.Documents) {
				record.Text = resp.Documents[i]
			}
			if i < len(resp.Metadatas) {
				record.Metadata = models.RecordMetadataFromMap(resp.Metadatas[i])
			}
			out = append(out, record)
		}

		if len(resp.IDs) < chromaPageSize {
			break
		}
	}
	return out, nil
}

// Query 相似度搜索
func (c *ChromaRepository) Query(ctx context.Context, q Query) ([]SearchResult, error) {
	vec, err := queryVector(ctx, c.embedder, q)
	if err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{vec},
		NResults:        topK(q.K),
		Include:         []string{"documents", "metadatas", "distances"},
	}

	var resp chromaQueryResponse
	if err := c.post(ctx, c.collectionPath("/query"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.IDs) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		r := SearchResult{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			r.Metadata = models.RecordMetadataFromMap(resp.Metadatas[0][i])
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			r.Distance = resp.Distances[0][i]
			r.Score = chromaScore(r.Distance, c.distType)
		}
		results = append(results, r)
	}
	return results, nil
}

// Close 释放空闲连接
func (c *ChromaRepository) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *ChromaRepository) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(c.collectionID) + suffix
}

func (c *ChromaRepository) post(ctx context.Context, path string, data interface{}, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, data, result)
}

// do 发送请求并解析响应
func (c *ChromaRepository) do(ctx context.Context, method, path string, data interface{}, result interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-chroma-token", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    "API call failed",
		}
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && (errResp.Message != "" || errResp.Error != "") {
			apiErr.Detail = strings.TrimSpace(errResp.Error + " " + errResp.Message)
		} else {
			apiErr.Detail = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response JSON: %w", err)
		}
	}

	return nil
}

// chromaSpace 距离类型对应的hnsw空间名
func chromaSpace(distType DistanceType) string {
	switch distType {
	case DotProduct:
		return "ip"
	case Euclidean:
		return "l2"
	default:
		return "cosine"
	}
}

// chromaScore Chroma返回的ip距离为 1 - 点积，l2为平方距离
func chromaScore(distance float32, distType DistanceType) float32 {
	switch distType {
	case DotProduct:
		return 1 - distance
	default:
		return DistanceToScore(distance, distType)
	}
}

// 在包初始化时注册Chroma仓库
func init() {
	RegisterRepository("chroma", NewChromaRepository)
}
