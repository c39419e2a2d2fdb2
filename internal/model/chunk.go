package model

// EsChunk 定义了存储在 Elasticsearch 中的分块结构。
type EsChunk struct {
	VectorID     string    `json:"vector_id"` // 每个分块独立的 UUID
	DocumentID   string    `json:"document_id"`
	ChunkID      int       `json:"chunk_id"`
	Page         int       `json:"page"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector,omitempty"`
	ModelVersion string    `json:"model_version"`
}

// ChunkHit 是一次向量检索命中的分块及其得分。
type ChunkHit struct {
	EsChunk
	Score float64
}

// TextChunk 是切块后、向量化之前的文本片段。
type TextChunk struct {
	Page int
	Text string
}
