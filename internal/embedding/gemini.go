package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// 默认API端点
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	// 默认模型
	defaultGeminiModel = "models/embedding-001"
)

// geminiContent Gemini请求正文
type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiEmbedRequest embedContent请求体
type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	TaskType             string        `json:"taskType,omitempty"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiEmbedding struct {
	Values []float32 `json:"values"`
}

type geminiEmbedResponse struct {
	Embedding geminiEmbedding `json:"embedding"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiClient Google Gemini嵌入API客户端
type GeminiClient struct {
	apiKey        string       // API密钥
	endpoint      string       // API端点
	model         string       // 模型名称，带models/前缀
	httpClient    *http.Client // HTTP客户端
	maxRetries    int          // 最大重试次数
	dimensions    int          // 输出维度
	taskType      string       // 入库文本的任务类型
	queryTaskType string       // 查询文本的任务类型
}

// NewGeminiClient 创建Gemini嵌入客户端
func NewGeminiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	return &GeminiClient{
		apiKey:        cfg.APIKey,
		endpoint:      endpoint,
		model:         model,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		maxRetries:    cfg.MaxRetries,
		dimensions:    cfg.Dimensions,
		taskType:      cfg.TaskType,
		queryTaskType: cfg.QueryTaskType,
	}, nil
}

// Name 返回模型名称
func (c *GeminiClient) Name() string {
	return c.model
}

// Embed 生成入库文本的向量表示
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, c.taskType)
}

// EmbedQuery 生成查询文本的向量表示
func (c *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, c.queryTaskType)
}

func (c *GeminiClient) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	req := geminiEmbedRequest{
		Model:                c.model,
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		TaskType:             taskType,
		OutputDimensionality: c.dimensions,
	}

	var resp geminiEmbedResponse
	if err := c.post(ctx, "embedContent", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Embedding.Values) == 0 {
		return nil, ErrEmptyVector
	}

	return resp.Embedding.Values, nil
}

// post 发送API请求并解析响应，服务端错误按指数退避重试
func (c *GeminiClient) post(ctx context.Context, method string, reqData interface{}, respObj interface{}) error {
	jsonData, err := json.Marshal(reqData)
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/%s:%s", c.endpoint, c.model, method)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
			case <-time.After(time.Duration(1<<attempt) * 100 * time.Millisecond):
			}
		}

		lastErr = c.do(ctx, url, jsonData, respObj)
		if lastErr == nil {
			return nil
		}

		var embErr EmbeddingError
		if !errors.As(lastErr, &embErr) || embErr.Code != ErrCodeServerError {
			return lastErr
		}
	}

	return lastErr
}

func (c *GeminiClient) do(ctx context.Context, url string, body []byte, respObj interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewEmbeddingError(ErrCodeTimeout, ctx.Err().Error())
		}
		return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		message := string(data)
		var errResp geminiErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		return errorFromStatus(resp.StatusCode, message)
	}

	if err := json.Unmarshal(data, respObj); err != nil {
		return NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}

	return nil
}

// 注册Gemini客户端
func init() {
	RegisterClient("gemini", NewGeminiClient)
}
