package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExtract 测试金融字段抽取
func TestExtract(t *testing.T) {
	text := "Get 2% cash back and 7.5% APR on your Home Equity line. " +
		"No annual fee, $0 to apply, up to $250,000.00 credit limit. " +
		"Call (555) 123-4567 or 555.987.6543, email support@aven.com. " +
		"A HELOC credit card with 2% again."

	facts := Extract(text)

	assert.Equal(t, []string{"$0", "$250,000.00"}, facts.MonetaryAmounts)
	assert.Equal(t, []string{"2%", "7.5%", "2%"}, facts.Percentages)
	assert.Equal(t, []string{"(555) 123-4567", "555.987.6543"}, facts.PhoneNumbers)
	assert.Equal(t, []string{"support@aven.com"}, facts.Emails)
	assert.Equal(t, []string{"cash_back", "home_equity", "heloc", "credit_card"}, facts.TopicTags)
}

// TestExtractScenario 测试典型支持页面
func TestExtractScenario(t *testing.T) {
	facts := Extract("Our cash back is 2%. Call (555) 123-4567.")

	assert.Empty(t, facts.MonetaryAmounts)
	assert.Equal(t, []string{"2%"}, facts.Percentages)
	assert.Equal(t, []string{"(555) 123-4567"}, facts.PhoneNumbers)
	assert.Empty(t, facts.Emails)
	assert.Equal(t, []string{"cash_back"}, facts.TopicTags)
}

// TestExtractEmptyFieldsSerializeAsArrays 测试空结果序列化为空数组
func TestExtractEmptyFieldsSerializeAsArrays(t *testing.T) {
	data, err := json.Marshal(Extract(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"fees":[],"percentages":[],"phone_numbers":[],"emails":[],"financial_terms":[]}`, string(data))
}

// TestExtractTopicTagsOrder 测试标签按固定顺序输出且不重复
func TestExtractTopicTagsOrder(t *testing.T) {
	facts := Extract("balance transfer, then cash back, then Balance Transfer again")
	assert.Equal(t, []string{"cash_back", "balance_transfer"}, facts.TopicTags)
}

// TestExtractNonASCIIDigits 测试任意十进制数字都能被识别
func TestExtractNonASCIIDigits(t *testing.T) {
	facts := Extract("Rate ٥% and $١٢٠ fee")

	assert.Equal(t, []string{"٥%"}, facts.Percentages)
	assert.Equal(t, []string{"$١٢٠"}, facts.MonetaryAmounts)
}
