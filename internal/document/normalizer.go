package document

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// markupPattern 匹配 <...> 形式的标签
var markupPattern = regexp.MustCompile(`<[^>]+>`)

// allowedPunctuation 保留的标点符号
const allowedPunctuation = ".,!?:;-()$%"

// Normalize 清洗页面正文
// 合并空白、去除标签、去除不在允许字符集中的字符
// 结果再次合并空白，保证重复调用结果不变
func Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	cleaned := collapseWhitespace(text)
	cleaned = markupPattern.ReplaceAllString(cleaned, "")
	cleaned = strings.Map(keepRune, cleaned)

	return collapseWhitespace(cleaned)
}

// NormalizePage 清洗页面正文，保留url和标题
func NormalizePage(page models.RawPage) models.NormalizedPage {
	return models.NormalizedPage{
		URL:     page.URL,
		Title:   page.Title,
		Content: Normalize(page.Content),
	}
}

// keepRune 保留字母、各类数字(含²、½等)和下划线
// 组合附加符号(Mn、Mc)不属于单词字符，会被去除
func keepRune(r rune) rune {
	switch {
	case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
		return r
	case unicode.IsSpace(r):
		return ' '
	case strings.ContainsRune(allowedPunctuation, r):
		return r
	}
	return -1
}

// collapseWhitespace 将连续空白替换为单个空格并去除首尾空白
func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
