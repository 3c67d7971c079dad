package document

import (
	"strings"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// FilterOptions 内容过滤配置
type FilterOptions struct {
	RootDomain         string   // 目标站点根域名，url必须包含该子串
	SentinelPhrases    []string // 表示抓取被干扰的提示语
	BlockedURLPatterns []string // 非生产或敏感页面的url片段
	DocumentExtensions []string // 允许标题为空的文档扩展名
}

// DefaultFilterOptions 返回默认过滤配置
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		RootDomain:         "aven.com",
		SentinelPhrases:    []string{"network appears to interfere"},
		BlockedURLPatterns: []string{"staging", "internal/crypto"},
		DocumentExtensions: []string{".pdf"},
	}
}

// ContentFilter 判断原始页面是否可以进入索引
type ContentFilter struct {
	rootDomain string
	sentinels  []string
	blocked    []string
	docExts    []string
}

// NewContentFilter 创建内容过滤器
// 所有比较都不区分大小写，因此在这里统一转为小写
func NewContentFilter(opts FilterOptions) *ContentFilter {
	return &ContentFilter{
		rootDomain: strings.ToLower(opts.RootDomain),
		sentinels:  lowerAll(opts.SentinelPhrases),
		blocked:    lowerAll(opts.BlockedURLPatterns),
		docExts:    lowerAll(opts.DocumentExtensions),
	}
}

// Filter 返回满足全部规则的页面，保持输入顺序
func (f *ContentFilter) Filter(pages []models.RawPage) []models.RawPage {
	kept := make([]models.RawPage, 0, len(pages))
	for _, page := range pages {
		if f.Eligible(page) {
			kept = append(kept, page)
		}
	}
	return kept
}

// Eligible 判断单个页面是否满足全部规则
func (f *ContentFilter) Eligible(page models.RawPage) bool {
	if strings.TrimSpace(page.Content) == "" {
		return false
	}

	content := strings.ToLower(page.Content)
	for _, phrase := range f.sentinels {
		if phrase != "" && strings.Contains(content, phrase) {
			return false
		}
	}

	url := strings.ToLower(page.URL)

	// 没有url的页面不因域名规则被拒绝
	if url != "" && f.rootDomain != "" && !strings.Contains(url, f.rootDomain) {
		return false
	}

	for _, pattern := range f.blocked {
		if pattern != "" && strings.Contains(url, pattern) {
			return false
		}
	}

	if page.Title == "" && !f.isDocumentURL(url) {
		return false
	}

	return true
}

// isDocumentURL url是否以文档扩展名结尾
func (f *ContentFilter) isDocumentURL(url string) bool {
	for _, ext := range f.docExts {
		if ext != "" && strings.HasSuffix(url, ext) {
			return true
		}
	}
	return false
}

// Filter 使用默认配置过滤页面
func Filter(pages []models.RawPage) []models.RawPage {
	return NewContentFilter(DefaultFilterOptions()).Filter(pages)
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}
