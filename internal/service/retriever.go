package service

import (
	"context"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/log"
)

// Retriever 在单个文档范围内检索与问题最相近的分块。
type Retriever interface {
	Retrieve(ctx context.Context, documentID, query string) ([]model.ChunkHit, error)
}

type vectorRetriever struct {
	embeddingClient embedding.Client
	chunks          es.ChunkStore
	topK            int
}

// NewRetriever 创建一个新的 Retriever 实例。
func NewRetriever(embeddingClient embedding.Client, chunks es.ChunkStore, topK int) Retriever {
	return &vectorRetriever{
		embeddingClient: embeddingClient,
		chunks:          chunks,
		topK:            topK,
	}
}

// Retrieve 向量化问题并执行按 document_id 过滤的 kNN 检索。
// 不做分数阈值过滤，最多返回 topK 个分块；没有结果不是错误。
func (r *vectorRetriever) Retrieve(ctx context.Context, documentID, query string) ([]model.ChunkHit, error) {
	log.Infof("[Retriever] 开始检索, document_id: %s, topK: %d", documentID, r.topK)

	queryVector, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[Retriever] 向量化查询失败: %v", err)
		return nil, wrap(ErrRetrievalUnavailable, err)
	}

	hits, err := r.chunks.SearchByDocument(ctx, documentID, queryVector, r.topK)
	if err != nil {
		log.Errorf("[Retriever] 向量检索失败: %v", err)
		return nil, wrap(ErrRetrievalUnavailable, err)
	}

	log.Infof("[Retriever] 检索完成, 命中 %d 个分块", len(hits))
	return hits, nil
}
