package embedding

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// errMockFailure 模拟远程调用失败
var errMockFailure = errors.New("mock embedding failure")

// MockClient 实现了Client接口的模拟客户端
// 向量为 [文本长度, 首字符]，fail中的文本总是失败，flaky中的文本首次失败
type MockClient struct {
	mu    sync.Mutex
	fail  map[string]bool
	flaky map[string]int
	calls int
	seen  []string
}

// NewMockClient 创建一个新的模拟客户端
func NewMockClient(failing ...string) *MockClient {
	m := &MockClient{
		fail:  make(map[string]bool),
		flaky: make(map[string]int),
	}
	for _, text := range failing {
		m.fail[text] = true
	}
	return m
}

func mockVector(text string) []float32 {
	return []float32{float32(len(text)), float32(text[0])}
}

// Embed 实现Client接口的Embed方法
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.seen = append(m.seen, text)

	if text == "" {
		return nil, ErrEmptyText
	}
	if m.fail[text] {
		return nil, errMockFailure
	}
	if n, ok := m.flaky[text]; ok && n > 0 {
		m.flaky[text] = n - 1
		return nil, NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited)
	}
	return mockVector(text), nil
}

// Name 实现Client接口的Name方法
func (m *MockClient) Name() string {
	return "mock-model"
}

func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// queryMockClient 查询向量为入库向量首维取负
type queryMockClient struct {
	*MockClient
	queries int
}

func (m *queryMockClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.queries++
	vec := mockVector(text)
	vec[0] = -vec[0]
	return vec, nil
}

// countingPacer 统计等待次数，不做实际等待
type countingPacer struct {
	waits int32
	err   error
}

func (p *countingPacer) Wait(ctx context.Context) error {
	atomic.AddInt32(&p.waits, 1)
	if p.err != nil {
		return p.err
	}
	return ctx.Err()
}

func (p *countingPacer) Waits() int {
	return int(atomic.LoadInt32(&p.waits))
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
