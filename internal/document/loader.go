package document

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyerfyer/aven-ingest/internal/models"
)

// crawlEnvelope 爬虫输出文件的根数组元素
type crawlEnvelope struct {
	PageInfo *[]models.RawPage `json:"page_info"`
}

// LoadPages 解析爬虫输出文件
// 根节点必须是数组，第一个元素的page_info字段保存页面列表
func LoadPages(r io.Reader) ([]models.RawPage, error) {
	var envelopes []crawlEnvelope
	if err := json.NewDecoder(r).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	// 空数组视为没有数据
	if len(envelopes) == 0 {
		return []models.RawPage{}, nil
	}

	if envelopes[0].PageInfo == nil {
		return nil, fmt.Errorf("%w: first element has no page_info field", models.ErrInvalidInput)
	}

	return *envelopes[0].PageInfo, nil
}
