// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// ChunkStore 是向量索引的抽象：写入分块、按文档检索、按文档删除。
type ChunkStore interface {
	IndexChunks(ctx context.Context, chunks []model.EsChunk) error
	SearchByDocument(ctx context.Context, documentID string, vector []float32, k int) ([]model.ChunkHit, error)
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
}

// Store 是 ChunkStore 的 Elasticsearch 实现。
type Store struct {
	client *elasticsearch.Client
	index  string
}

// InitES 初始化 Elasticsearch 客户端，并在索引不存在时按向量维度创建它。
func InitES(esCfg config.ElasticsearchConfig, dims int) (*Store, error) {
	client, err := elasticsearch.NewClient(clientConfig(esCfg))
	if err != nil {
		return nil, err
	}
	s := &Store{client: client, index: esCfg.IndexName}
	if err := s.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return s, nil
}

func clientConfig(esCfg config.ElasticsearchConfig) elasticsearch.Config {
	if esCfg.InsecureSkipVerify {
		log.Warnw("Elasticsearch 已关闭 TLS 证书校验", "addresses", esCfg.Addresses)
	}
	return elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: esCfg.InsecureSkipVerify},
		},
	}
}

func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"page": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *Store) createIndexIfNotExists(dims int) error {
	res, err := s.client.Indices.Exists([]string{s.index})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", s.index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, 向量维度: %d", s.index, dims)
	return nil
}

// buildBulkBody 生成 _bulk 接口所需的 NDJSON 请求体。
func buildBulkBody(index string, chunks []model.EsChunk) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		meta := map[string]any{"index": map[string]any{"_index": index, "_id": c.VectorID}}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

// IndexChunks 通过一次 bulk 请求写入全部分块，并等待刷新后返回，保证随后即可被检索到。
func (s *Store) IndexChunks(ctx context.Context, chunks []model.EsChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	body, err := buildBulkBody(s.index, chunks)
	if err != nil {
		return fmt.Errorf("encode bulk body: %w", err)
	}

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    body,
		Refresh: "wait_for",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量写入 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("bulk index returned %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		failed := 0
		var first string
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Status >= 300 {
					failed++
					if first == "" {
						first = string(r.Error)
					}
				}
			}
		}
		log.Errorf("批量写入部分失败: %d/%d, 首个错误: %s", failed, len(chunks), first)
		return fmt.Errorf("bulk index: %d of %d chunks failed", failed, len(chunks))
	}
	return nil
}

// buildKNNQuery 构造限定在单个文档内的 kNN 查询。
func buildKNNQuery(documentID string, vector []float32, k int) map[string]any {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	return map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter": map[string]any{
				"term": map[string]any{"document_id": documentID},
			},
		},
		"size": k,
		"_source": map[string]any{
			"excludes": []string{"vector"},
		},
	}
}

// SearchByDocument 返回与查询向量最相近的 k 个分块，只在给定文档的分块中检索。
func (s *Store) SearchByDocument(ctx context.Context, documentID string, vector []float32, k int) ([]model.ChunkHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildKNNQuery(documentID, vector, k)); err != nil {
		return nil, fmt.Errorf("encode knn query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.ChunkHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.ChunkHit{EsChunk: h.Source, Score: h.Score})
	}
	return hits, nil
}

// DeleteByDocument 删除某个文档的全部分块，返回删除的数量。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"document_id": documentID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, err
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{s.index},
		Body:      &buf,
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按文档删除分块失败, document_id: %s, resp: %s", documentID, res.String())
		return 0, fmt.Errorf("delete by query returned %s", res.Status())
	}

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete by query response: %w", err)
	}
	return out.Deleted, nil
}
