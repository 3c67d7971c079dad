package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/sirupsen/logrus"
)

// Preprocessor 将原始页面转换为可索引的条目
// 负责过滤、清洗、分类、字段抽取和分块
type Preprocessor struct {
	filter      *ContentFilter
	categorizer *Categorizer
	splitter    *TextSplitter
	minWords    int // 清洗后少于该单词数的页面被丢弃
	counter     int // 全局分块计数器，跨页面递增
	items       []models.ProcessedItem
	logger      *logrus.Logger
}

// PreprocessorOption 预处理器配置选项
type PreprocessorOption func(*Preprocessor)

// NewPreprocessor 创建预处理器
func NewPreprocessor(opts ...PreprocessorOption) *Preprocessor {
	p := &Preprocessor{
		filter:      NewContentFilter(DefaultFilterOptions()),
		categorizer: NewCategorizer(),
		splitter:    NewTextSplitter(DefaultSplitterConfig()),
		logger:      logrus.New(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithFilter 设置内容过滤器
func WithFilter(filter *ContentFilter) PreprocessorOption {
	return func(p *Preprocessor) {
		if filter != nil {
			p.filter = filter
		}
	}
}

// WithCategorizer 设置分类器
func WithCategorizer(c *Categorizer) PreprocessorOption {
	return func(p *Preprocessor) {
		if c != nil {
			p.categorizer = c
		}
	}
}

// WithSplitter 设置分段器
func WithSplitter(s *TextSplitter) PreprocessorOption {
	return func(p *Preprocessor) {
		if s != nil {
			p.splitter = s
		}
	}
}

// WithMinWords 设置页面最少单词数
func WithMinWords(n int) PreprocessorOption {
	return func(p *Preprocessor) {
		if n >= 0 {
			p.minWords = n
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) PreprocessorOption {
	return func(p *Preprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Process 处理一组原始页面，返回本次新增的条目
// 多次调用时计数器继续递增，条目ID在整个集合内唯一
func (p *Preprocessor) Process(pages []models.RawPage) []models.ProcessedItem {
	eligible := p.filter.Filter(pages)
	p.logger.WithFields(logrus.Fields{
		"total":    len(pages),
		"eligible": len(eligible),
	}).Info("Filtered crawled pages")

	produced := make([]models.ProcessedItem, 0, len(eligible))
	for _, raw := range eligible {
		page := NormalizePage(raw)

		if wordCount(page.Content) < p.minWords || page.Content == "" {
			p.logger.WithField("url", page.URL).Debug("Skipping page with too little content")
			continue
		}

		category := p.categorizer.Categorize(page.URL, page.Title)
		facts := Extract(page.Content)

		texts, err := p.splitter.Split(page.Content)
		if err != nil {
			p.logger.WithError(err).WithField("url", page.URL).Error("Failed to split page content")
			continue
		}

		for _, chunk := range p.newChunks(page.URL, texts) {
			produced = append(produced, models.ProcessedItem{
				ID:      chunk.ID,
				Content: chunk.Text,
				Metadata: models.ItemMetadata{
					URL:           page.URL,
					Title:         page.Title,
					Category:      category,
					ChunkIndex:    chunk.Index,
					TotalChunks:   chunk.Total,
					ChunkSize:     chunk.CharLength,
					WordCount:     chunk.WordCount,
					FinancialInfo: facts,
				},
			})
		}
	}

	p.items = append(p.items, produced...)
	p.logger.WithField("items", len(produced)).Info("Processed pages into chunks")

	return produced
}

// newChunks 为页面的分块分配全局ID
// ID取分配前的计数值，从0开始
func (p *Preprocessor) newChunks(url string, texts []string) []models.Chunk {
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			ID:         fmt.Sprintf("%s_%d", url, p.counter),
			Text:       text,
			Index:      i,
			Total:      len(texts),
			CharLength: utf8.RuneCountInString(text),
			WordCount:  wordCount(text),
		}
		p.counter++
	}
	return chunks
}

// Reset 清空计数器和已处理条目，开始新的数据集合
func (p *Preprocessor) Reset() {
	p.counter = 0
	p.items = nil
}

// Items 返回目前为止处理得到的全部条目
func (p *Preprocessor) Items() []models.ProcessedItem {
	return p.items
}

// Summary 汇总已处理条目
func (p *Preprocessor) Summary() models.PreprocessSummary {
	return Summarize(p.items)
}

// Summarize 计算条目集合的统计信息
func Summarize(items []models.ProcessedItem) models.PreprocessSummary {
	summary := models.PreprocessSummary{
		TotalChunks:    len(items),
		Categories:     make(map[string]int),
		FinancialTerms: make(map[string]int),
	}

	for _, item := range items {
		summary.TotalWords += item.Metadata.WordCount
		summary.Categories[string(item.Metadata.Category)]++
		for _, tag := range item.Metadata.FinancialInfo.TopicTags {
			summary.FinancialTerms[tag]++
		}
	}

	if summary.TotalChunks > 0 {
		summary.AvgWordsPerChunk = float64(summary.TotalWords) / float64(summary.TotalChunks)
	}

	return summary
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
