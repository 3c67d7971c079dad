package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromaTestPrefix = "/api/v2/tenants/default_tenant/databases/default_database"

// fakeChroma 最小化的Chroma v2接口实现
type fakeChroma struct {
	mu        sync.Mutex
	token     string
	space     string
	ids       []string
	documents map[string]string
	metadatas map[string]map[string]interface{}
	upserts   int
}

func newFakeChroma(token string) *fakeChroma {
	return &fakeChroma{
		token:     token,
		documents: make(map[string]string),
		metadatas: make(map[string]map[string]interface{}),
	}
}

func (f *fakeChroma) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && r.Header.Get("x-chroma-token") != f.token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized","message":"bad token"}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, chromaTestPrefix)
	switch {
	case path == "/collections" && r.Method == http.MethodPost:
		var body struct {
			Name     string                 `json:"name"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.space, _ = body.Metadata["hnsw:space"].(string)
		writeJSON(w, map[string]string{"id": "coll-1", "name": body.Name})

	case path == "/collections/coll-1/upsert":
		var body chromaUpsertRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		for i, id := range body.IDs {
			if len(body.Embeddings[i]) == 0 {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"error":"InvalidArgument","message":"missing embedding"}`))
				return
			}
			if _, ok := f.documents[id]; !ok {
				f.ids = append(f.ids, id)
			}
			f.documents[id] = body.Documents[i]
			f.metadatas[id] = body.Metadatas[i]
		}
		f.upserts++
		writeJSON(w, map[string]bool{})

	case path == "/collections/coll-1/count" && r.Method == http.MethodGet:
		writeJSON(w, len(f.ids))

	case path == "/collections/coll-1/get":
		var body chromaGetRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := chromaGetResponse{}
		for i := body.Offset; i < len(f.ids) && i < body.Offset+body.Limit; i++ {
			id := f.ids[i]
			resp.IDs = append(resp.IDs, id)
			resp.Documents = append(resp.Documents, f.documents[id])
			resp.Metadatas = append(resp.Metadatas, f.metadatas[id])
		}
		writeJSON(w, resp)

	case path == "/collections/coll-1/query":
		var body chromaQueryRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := chromaQueryResponse{
			IDs:       [][]string{{}},
			Documents: [][]string{{}},
			Metadatas: [][]map[string]interface{}{{}},
			Distances: [][]float32{{}},
		}
		for i, id := range f.ids {
			if i >= body.NResults {
				break
			}
			resp.IDs[0] = append(resp.IDs[0], id)
			resp.Documents[0] = append(resp.Documents[0], f.documents[id])
			resp.Metadatas[0] = append(resp.Metadatas[0], f.metadatas[id])
			resp.Distances[0] = append(resp.Distances[0], 0.1*float32(i+1))
		}
		writeJSON(w, resp)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NotFound","message":"unknown route"}`))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestChroma(t *testing.T, token string, embedder Embedder) (*fakeChroma, Repository) {
	t.Helper()
	fake := newFakeChroma(token)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.Type = "chroma"
	cfg.Endpoint = server.URL
	cfg.APIKey = token
	cfg.Embedder = embedder
	cfg.Logger = quietLogger()

	repo, err := NewRepository(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return fake, repo
}

// TestChromaUpsertAndCount 测试写入和计数
func TestChromaUpsertAndCount(t *testing.T) {
	ctx := context.Background()
	fake, repo := newTestChroma(t, "secret", &fakeEmbedder{})
	assert.Equal(t, "cosine", fake.space)
	assert.Equal(t, "aven_financial_products", repo.Name())

	records := []models.IndexRecord{
		testRecord("a", models.CategoryProductInfo),
		testRecord("b", models.CategorySupport, 1, 2),
	}
	require.NoError(t, repo.Upsert(ctx, records))
	require.NoError(t, repo.Upsert(ctx, records))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, fake.upserts)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "text of a", all[0].Text)
	assert.Equal(t, models.CategorySupport, all[1].Metadata.Category)
	assert.Equal(t, 3, all[1].Metadata.WordCount)
}

// TestChromaUpsertWithoutEmbedder 测试缺少向量且没有embedder时报错
func TestChromaUpsertWithoutEmbedder(t *testing.T) {
	fake, repo := newTestChroma(t, "", nil)

	err := repo.Upsert(context.Background(), []models.IndexRecord{testRecord("a", models.CategoryProductInfo)})
	require.ErrorIs(t, err, ErrNoEmbedder)
	assert.Equal(t, 0, fake.upserts)
}

// TestChromaQuery 测试查询结果的解析
func TestChromaQuery(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestChroma(t, "", &fakeEmbedder{})

	require.NoError(t, repo.Upsert(ctx, testRecords(4)))

	results, err := repo.Query(ctx, Query{Text: "credit card fees", K: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "r00", results[0].ID)
	assert.Equal(t, "text of r00", results[0].Text)
	assert.Equal(t, "https://aven.com/r00", results[0].Metadata.URL)
	assert.InDelta(t, 0.1, results[0].Distance, 1e-6)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

// TestChromaAPIError 测试错误响应转换
func TestChromaAPIError(t *testing.T) {
	fake := newFakeChroma("secret")
	server := httptest.NewServer(fake)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = server.URL
	cfg.APIKey = "wrong"
	cfg.Logger = quietLogger()

	_, err := NewChromaRepository(cfg)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "bad token")
}
