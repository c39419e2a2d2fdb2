package repository

import (
	"context"

	"gorm.io/gorm"
	"rag-chat-go/internal/model"
)

// DocumentRepository 接口定义了 documents 表的持久化操作。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	// MarkIndexed 把文档标记为已索引并记录分块数量。
	MarkIndexed(ctx context.Context, id string, chunkCount int) error
	MarkFailed(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	// Delete 删除文档记录；记录不存在不视为错误。
	Delete(ctx context.Context, id string) error
}

type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db}
}

func (r *gormDocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *gormDocumentRepository) MarkIndexed(ctx context.Context, id string, chunkCount int) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.DocumentStatusIndexed, "chunk_count": chunkCount}).Error
}

func (r *gormDocumentRepository) MarkFailed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).
		Update("status", model.DocumentStatusFailed).Error
}

func (r *gormDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *gormDocumentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{}).Error
}
