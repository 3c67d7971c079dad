package model

import (
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
}

// QueryHit 单条查询结果
type QueryHit struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	WordCount int     `json:"word_count"`
	Score     float32 `json:"score"`
	Distance  float32 `json:"distance"`
}

// QueryResponse 查询响应
type QueryResponse struct {
	Query   string     `json:"query"`
	Results []QueryHit `json:"results"`
}

// ConvertToHits 将搜索结果转换为响应格式
func ConvertToHits(results []vectordb.SearchResult) []QueryHit {
	hits := make([]QueryHit, len(results))
	for i, r := range results {
		hits[i] = QueryHit{
			ID:        r.ID,
			Text:      r.Text,
			URL:       r.Metadata.URL,
			Title:     r.Metadata.Title,
			Category:  string(r.Metadata.Category),
			WordCount: r.Metadata.WordCount,
			Score:     r.Score,
			Distance:  r.Distance,
		}
	}
	return hits
}
