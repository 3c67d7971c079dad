package models

// PreprocessSummary 预处理统计
type PreprocessSummary struct {
	TotalChunks      int            `json:"total_chunks"`
	TotalWords       int            `json:"total_words"`
	AvgWordsPerChunk float64        `json:"avg_words_per_chunk"`
	Categories       map[string]int `json:"categories"`
	FinancialTerms   map[string]int `json:"financial_terms"`
}

// EmbeddingSummary 向量生成统计
type EmbeddingSummary struct {
	TotalItems          int            `json:"total_items"`
	ItemsWithEmbeddings int            `json:"items_with_embeddings"`
	FailedItems         int            `json:"failed_items"`
	SuccessRate         float64        `json:"embedding_success_rate"`
	Dimension           int            `json:"embedding_dimension"`
	Model               string         `json:"model_used"`
	Categories          map[string]int `json:"categories"`
}

// CollectionStats 向量库集合统计
type CollectionStats struct {
	CollectionName string         `json:"collection_name"`
	TotalItems     int            `json:"total_items"`
	Categories     map[string]int `json:"categories"`
}
