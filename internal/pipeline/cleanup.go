package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
)

const (
	defaultCleanupAttempts = 3
	defaultCleanupDelay    = 200 * time.Millisecond
	defaultCleanupMaxDelay = 2 * time.Second
)

// CleanupProcessor 删除一个文档留下的全部数据：向量分块、原始 PDF 和 documents 记录。
// 它实现了 kafka.TaskProcessor。
type CleanupProcessor struct {
	chunks es.ChunkStore
	store  storage.ObjectStore
	docs   repository.DocumentRepository
	opts   []retry.Option
}

// NewCleanupProcessor 创建一个新的 CleanupProcessor 实例。
func NewCleanupProcessor(chunks es.ChunkStore, store storage.ObjectStore, docs repository.DocumentRepository) *CleanupProcessor {
	return &CleanupProcessor{
		chunks: chunks,
		store:  store,
		docs:   docs,
		opts: []retry.Option{
			retry.Attempts(defaultCleanupAttempts),
			retry.Delay(defaultCleanupDelay),
			retry.MaxDelay(defaultCleanupMaxDelay),
			retry.LastErrorOnly(true),
		},
	}
}

// Process 是清理任务的处理入口，每一步都是幂等的，重复投递是安全的。
func (c *CleanupProcessor) Process(ctx context.Context, task tasks.DocumentCleanupTask) error {
	opts := append([]retry.Option{
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("[Cleanup] 第 %d 次重试, document_id: %s, error: %v", n+1, task.DocumentID, err)
		}),
	}, c.opts...)

	// 1. 删除向量分块
	var deleted int64
	err := retry.Do(func() error {
		n, err := c.chunks.DeleteByDocument(ctx, task.DocumentID)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("delete chunks of %s: %w", task.DocumentID, err)
	}
	log.Infof("[Cleanup] 已删除 %d 个分块, document_id: %s", deleted, task.DocumentID)

	// 2. 删除原始文件；任务里没有带键时从 documents 表中查
	objectKey := task.ObjectKey
	if objectKey == "" {
		doc, err := c.docs.FindByID(ctx, task.DocumentID)
		switch {
		case err == nil:
			objectKey = doc.ObjectKey
		case repository.IsNotFound(err):
		default:
			return fmt.Errorf("find document %s: %w", task.DocumentID, err)
		}
	}
	if objectKey != "" {
		if err := retry.Do(func() error { return c.store.Delete(ctx, objectKey) }, opts...); err != nil {
			return fmt.Errorf("delete object %s: %w", objectKey, err)
		}
	}

	// 3. 删除文档记录
	if err := c.docs.Delete(ctx, task.DocumentID); err != nil {
		return fmt.Errorf("delete document record %s: %w", task.DocumentID, err)
	}
	log.Infof("[Cleanup] 文档清理完成, document_id: %s, reason: %s", task.DocumentID, task.Reason)
	return nil
}
