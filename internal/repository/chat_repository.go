// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"rag-chat-go/internal/model"
)

// ChatRepository 定义了 advanced_chats 表的操作接口。
type ChatRepository interface {
	// Upsert 按 ID 插入或覆盖一条聊天元数据。
	Upsert(ctx context.Context, chat *model.Chat) error
	// ListByLastUpdate 返回全部聊天，最近更新的排在前面。
	ListByLastUpdate(ctx context.Context) ([]model.Chat, error)
	// DeleteByID 在一个事务中查找并删除聊天，返回被删除的行。
	// 不存在时返回 gorm.ErrRecordNotFound。
	DeleteByID(ctx context.Context, id string) (*model.Chat, error)
}

type gormChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

func (r *gormChatRepository) Upsert(ctx context.Context, chat *model.Chat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "file_path", "last_update", "pdf_path", "pdf_name", "pdf_uuid"}),
		}).Create(chat).Error
	})
}

func (r *gormChatRepository) ListByLastUpdate(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).Order("last_update DESC").Find(&chats).Error
	return chats, err
}

func (r *gormChatRepository) DeleteByID(ctx context.Context, id string) (*model.Chat, error) {
	var deleted model.Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&deleted).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// IsNotFound 报告 err 是否表示记录不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
