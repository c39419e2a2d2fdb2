// Package pipeline 定义了文档入库和清理的核心流程。
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/extractor"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
)

// PDFContentType 是上传时唯一接受的声明类型。
const PDFContentType = "application/pdf"

// Upload 是一次待入库的上传。
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Ingestor 封装了 PDF 入库的所有依赖和逻辑。
type Ingestor struct {
	docs      repository.DocumentRepository
	store     storage.ObjectStore
	chunks    es.ChunkStore
	embedder  embedding.Client
	extractor extractor.Extractor
	publisher kafka.CleanupPublisher
	cfg       config.RAGConfig
}

// NewIngestor 创建一个新的 Ingestor 实例。
func NewIngestor(
	docs repository.DocumentRepository,
	store storage.ObjectStore,
	chunks es.ChunkStore,
	embedder embedding.Client,
	ext extractor.Extractor,
	publisher kafka.CleanupPublisher,
	cfg config.RAGConfig,
) *Ingestor {
	return &Ingestor{
		docs:      docs,
		store:     store,
		chunks:    chunks,
		embedder:  embedder,
		extractor: ext,
		publisher: publisher,
		cfg:       cfg,
	}
}

// safeFileName 去掉路径部分，避免上传的文件名逃出存储前缀。
func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "document.pdf"
	}
	return base
}

// Ingest 把一个 PDF 存入对象存储并写入向量索引。调用方负责事先校验内容类型。
// 分配文档 ID 之后的任何失败都会把文档标记为失败并投递清理任务。
func (p *Ingestor) Ingest(ctx context.Context, up Upload) (*model.DocumentRef, error) {
	fileName := safeFileName(up.FileName)
	doc := &model.Document{
		ID:       uuid.NewString(),
		FileName: fileName,
		Status:   model.DocumentStatusIndexing,
	}
	doc.ObjectKey = model.DocumentObjectKey(doc.ID, fileName)
	log.Infof("[Ingestor] 开始入库, document_id: %s, file: %s", doc.ID, fileName)

	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	count, err := p.run(ctx, doc, up.Body)
	if err != nil {
		p.fail(ctx, doc, err)
		return nil, err
	}

	log.Infof("[Ingestor] 入库完成, document_id: %s, chunks: %d", doc.ID, count)
	return &model.DocumentRef{ID: doc.ID, FileName: fileName, ObjectKey: doc.ObjectKey, ChunkCount: count}, nil
}

func (p *Ingestor) run(ctx context.Context, doc *model.Document, body io.Reader) (int, error) {
	// 1. 暂存到本地，函数返回时总会删除
	staged, size, err := p.stage(doc, body)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rmErr := os.Remove(staged); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("[Ingestor] 删除暂存文件失败 %s: %v", staged, rmErr)
		}
	}()
	log.Infof("[Ingestor] 步骤1: 文件已暂存, 大小: %d 字节", size)

	// 2. 上传到对象存储
	if err := p.upload(ctx, staged, size, doc.ObjectKey); err != nil {
		return 0, err
	}
	log.Infof("[Ingestor] 步骤2: 已上传到对象存储, key: %s", doc.ObjectKey)

	// 3. 逐页提取文本并切块
	pages, err := p.extractor.ExtractPages(ctx, staged)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	textChunks := splitPages(pages, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	log.Infof("[Ingestor] 步骤3: 提取 %d 页, 生成 %d 个分块", len(pages), len(textChunks))
	if len(textChunks) == 0 {
		log.Warnf("[Ingestor] 文档 %s 没有可索引的文本", doc.ID)
	}

	// 4. 并发向量化
	vectors, err := p.embed(ctx, textChunks)
	if err != nil {
		return 0, err
	}

	// 5. 批量写入向量索引
	esChunks := make([]model.EsChunk, len(textChunks))
	for i, c := range textChunks {
		esChunks[i] = model.EsChunk{
			VectorID:     uuid.NewString(),
			DocumentID:   doc.ID,
			ChunkID:      i,
			Page:         c.Page,
			TextContent:  c.Text,
			Vector:       vectors[i],
			ModelVersion: p.embedder.ModelVersion(),
		}
	}
	if err := p.chunks.IndexChunks(ctx, esChunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	log.Infof("[Ingestor] 步骤5: 已索引 %d 个分块", len(esChunks))

	if err := p.docs.MarkIndexed(ctx, doc.ID, len(esChunks)); err != nil {
		return 0, fmt.Errorf("mark document indexed: %w", err)
	}
	return len(esChunks), nil
}

func (p *Ingestor) stage(doc *model.Document, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(p.cfg.StagingDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(p.cfg.StagingDir, doc.ID+"_"+doc.FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	size, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return "", 0, fmt.Errorf("write staging file: %w", copyErr)
		}
		return "", 0, fmt.Errorf("close staging file: %w", closeErr)
	}
	return path, size, nil
}

func (p *Ingestor) upload(ctx context.Context, path string, size int64, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()
	if err := p.store.Put(ctx, key, f, size, PDFContentType); err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	return nil
}

func (p *Ingestor) embed(ctx context.Context, chunks []model.TextChunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.EmbedConcurrency, 1))
	for i := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.CreateEmbedding(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// fail 记录失败状态并投递清理任务。请求可能已被取消，这里使用不会被取消的上下文。
func (p *Ingestor) fail(ctx context.Context, doc *model.Document, cause error) {
	log.Errorf("[Ingestor] 入库失败, document_id: %s, error: %v", doc.ID, cause)
	bg := context.WithoutCancel(ctx)

	if err := p.docs.MarkFailed(bg, doc.ID); err != nil {
		log.Errorf("[Ingestor] 标记文档失败状态出错, document_id: %s, error: %v", doc.ID, err)
	}
	task := tasks.DocumentCleanupTask{
		DocumentID: doc.ID,
		ObjectKey:  doc.ObjectKey,
		Reason:     tasks.ReasonIngestFailed,
	}
	if err := p.publisher.PublishCleanup(bg, task); err != nil {
		log.Errorw("[Ingestor] 投递清理任务失败, 需要人工清理", "document_id", doc.ID, "error", err)
	}
}
