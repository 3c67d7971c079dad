package vectordb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
)

// fakeEmbedder 以文本长度和首字符构造二维向量
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if text == f.fail {
		return nil, errors.New("embed failed")
	}
	if text == "" {
		return nil, errors.New("empty text")
	}
	return []float32{float32(len(text)), float32(text[0])}, nil
}

func testRecord(id string, category models.Category, vec ...float32) models.IndexRecord {
	return models.IndexRecord{
		ID:   id,
		Text: "text of " + id,
		Metadata: models.RecordMetadata{
			URL:       "https://aven.com/" + id,
			Title:     "Title " + id,
			Category:  category,
			WordCount: 3,
		},
		Embedding: vec,
	}
}

func testRecords(n int) []models.IndexRecord {
	out := make([]models.IndexRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, testRecord(fmt.Sprintf("r%02d", i), models.CategoryProductInfo, float32(i+1), 1))
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
