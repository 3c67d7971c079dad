package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI嵌入向量客户端
type OpenAIClient struct {
	client     *openai.Client // OpenAI API客户端
	model      string         // 使用的嵌入模型
	dimensions int            // 向量维度
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 检查必要配置
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	// 设置默认模型
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// 如果指定了自定义端点，则使用它
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vectors, err := c.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyVector
	}

	return vectors[0], nil
}

// create 发送嵌入请求，按返回的index还原顺序
func (c *OpenAIClient) create(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	result := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(result) {
			continue
		}
		result[data.Index] = data.Embedding
	}

	return result, nil
}

// convertOpenAIError 将SDK错误转换为嵌入错误
func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return errorFromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errorFromStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewEmbeddingError(ErrCodeTimeout, err.Error())
	}

	return NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("embedding API error: %v", err))
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
