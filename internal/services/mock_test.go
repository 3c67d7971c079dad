package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// mockEmbedder 以文本长度构造二维向量，指定文本总是失败
type mockEmbedder struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func newMockEmbedder(failing ...string) *mockEmbedder {
	m := &mockEmbedder{fail: make(map[string]bool)}
	for _, text := range failing {
		m.fail[text] = true
	}
	return m
}

func (m *mockEmbedder) Name() string {
	return "mock-embedding"
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail[text] {
		return nil, errors.New("remote model rejected text")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	// 包含fees的文本与测试查询方向接近
	if strings.Contains(strings.ToLower(text), "fee") {
		return []float32{1, 0.1}, nil
	}
	return []float32{0.1, 1}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
