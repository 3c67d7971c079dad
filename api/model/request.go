package model

// QueryRequest 相似度查询请求
type QueryRequest struct {
	Query string `json:"query" binding:"required"`           // 查询文本
	K     int    `json:"k" binding:"omitempty,min=1,max=50"` // 返回结果数，默认5
}

// GetK 获取结果数，未指定时使用默认值
func (r *QueryRequest) GetK(defaultK int) int {
	if r.K <= 0 {
		return defaultK
	}
	return r.K
}
