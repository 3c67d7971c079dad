package document

import (
	"regexp"
	"strings"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// RE2的\d只匹配ASCII数字，数字统一写作\p{Nd}以匹配任意十进制数字
// \s和\b仍按ASCII处理，正文经过Normalize后空白都已是ASCII空格
var (
	amountPattern     = regexp.MustCompile(`\$[\p{Nd},]+\.?\p{Nd}*`)
	percentagePattern = regexp.MustCompile(`\p{Nd}+\.?\p{Nd}*%`)
	phonePattern      = regexp.MustCompile(`\(?\p{Nd}{3}\)?[\s.-]?\p{Nd}{3}[\s.-]?\p{Nd}{4}`)
	emailPattern      = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
)

// topicRule 主题关键词与对应标签
type topicRule struct {
	phrase string
	tag    string
}

// topicRules 标签按此顺序输出
var topicRules = []topicRule{
	{phrase: "cash back", tag: "cash_back"},
	{phrase: "home equity", tag: "home_equity"},
	{phrase: "heloc", tag: "heloc"},
	{phrase: "credit card", tag: "credit_card"},
	{phrase: "balance transfer", tag: "balance_transfer"},
}

// Extract 抽取正文中的金额、百分比、电话、邮箱和主题标签
// 各项匹配按出现顺序保留，不去重
func Extract(text string) models.FinancialFacts {
	facts := models.NewFinancialFacts()
	if text == "" {
		return facts
	}

	facts.MonetaryAmounts = appendMatches(facts.MonetaryAmounts, amountPattern, text)
	facts.Percentages = appendMatches(facts.Percentages, percentagePattern, text)
	facts.PhoneNumbers = appendMatches(facts.PhoneNumbers, phonePattern, text)
	facts.Emails = appendMatches(facts.Emails, emailPattern, text)

	lower := strings.ToLower(text)
	for _, rule := range topicRules {
		if strings.Contains(lower, rule.phrase) {
			facts.TopicTags = append(facts.TopicTags, rule.tag)
		}
	}

	return facts
}

func appendMatches(dst []string, pattern *regexp.Regexp, text string) []string {
	return append(dst, pattern.FindAllString(text, -1)...)
}
