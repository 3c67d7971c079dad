package document

import (
	"strings"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// Rule 分类规则
// url或标题中包含任意关键词即命中
type Rule struct {
	Category      models.Category
	URLKeywords   []string
	TitleKeywords []string
}

// matches 判断规则是否命中，输入已转为小写
func (r Rule) matches(url, title string) bool {
	for _, kw := range r.URLKeywords {
		if strings.Contains(url, kw) {
			return true
		}
	}
	for _, kw := range r.TitleKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// DefaultRules 默认分类规则，按优先级排列
func DefaultRules() []Rule {
	return []Rule{
		{Category: models.CategoryEducation, URLKeywords: []string{"education"}, TitleKeywords: []string{"education"}},
		{Category: models.CategorySupport, URLKeywords: []string{"support"}, TitleKeywords: []string{"help"}},
		{Category: models.CategoryLegalDocument, URLKeywords: []string{".pdf", "docs"}},
		{Category: models.CategoryPrivacyPolicy, URLKeywords: []string{"privacy"}, TitleKeywords: []string{"privacy"}},
		{Category: models.CategoryAccountManagement, URLKeywords: []string{"login", "my.aven"}},
		{Category: models.CategorySignup, URLKeywords: []string{"join"}},
	}
}

// Categorizer 按规则顺序为页面分类，第一个命中的规则生效
type Categorizer struct {
	rules    []Rule
	fallback models.Category
}

// NewCategorizer 创建分类器，未传入规则时使用默认规则
func NewCategorizer(rules ...Rule) *Categorizer {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	// 复制规则，不修改调用方的切片
	owned := make([]Rule, len(rules))
	for i, rule := range rules {
		owned[i] = Rule{
			Category:      rule.Category,
			URLKeywords:   lowerAll(rule.URLKeywords),
			TitleKeywords: lowerAll(rule.TitleKeywords),
		}
	}
	return &Categorizer{
		rules:    owned,
		fallback: models.CategoryProductInfo,
	}
}

// Categorize 返回页面分类，总能返回一个结果
func (c *Categorizer) Categorize(url, title string) models.Category {
	url = strings.ToLower(url)
	title = strings.ToLower(title)
	for _, rule := range c.rules {
		if rule.matches(url, title) {
			return rule.Category
		}
	}
	return c.fallback
}

var defaultCategorizer = NewCategorizer()

// Categorize 使用默认规则分类
func Categorize(url, title string) models.Category {
	return defaultCategorizer.Categorize(url, title)
}
