package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
)

// SaveChatInput 是保存一次聊天快照所需的数据。
type SaveChatInput struct {
	ChatID       string
	ChatName     string
	Messages     []model.ChatMessage
	DocumentName *string
	DocumentPath *string
	DocumentID   *string
}

// ChatHistoryService 管理聊天记录的保存、加载和删除。
type ChatHistoryService interface {
	Save(ctx context.Context, in SaveChatInput) error
	Load(ctx context.Context) ([]model.ChatRecord, error)
	Delete(ctx context.Context, chatID string) error
}

type chatHistoryService struct {
	chatRepo  repository.ChatRepository
	store     storage.ObjectStore
	publisher kafka.CleanupPublisher
	now       func() time.Time
}

// NewChatHistoryService 创建一个新的 ChatHistoryService 实例。
func NewChatHistoryService(chatRepo repository.ChatRepository, store storage.ObjectStore, publisher kafka.CleanupPublisher) ChatHistoryService {
	return &chatHistoryService{
		chatRepo:  chatRepo,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

func validateChatID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: chat_id is required", ErrInvalidInput)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: chat_id contains illegal characters", ErrInvalidInput)
	}
	return nil
}

// encodeTranscript 以 4 空格缩进输出 JSON，非 ASCII 字符不转义。
func encodeTranscript(messages []model.ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(messages); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Save 先整体覆盖对象存储中的聊天记录，再按 ID 写入元数据。
func (s *chatHistoryService) Save(ctx context.Context, in SaveChatInput) error {
	if err := validateChatID(in.ChatID); err != nil {
		return err
	}

	data, err := encodeTranscript(in.Messages)
	if err != nil {
		return fmt.Errorf("%w: encode messages: %w", ErrInvalidInput, err)
	}
	key := model.TranscriptKey(in.ChatID)
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		log.Errorf("[ChatHistoryService] 写入聊天记录失败, chat_id: %s, error: %v", in.ChatID, err)
		return wrap(ErrServiceUnavailable, err)
	}

	chat := &model.Chat{
		ID:           in.ChatID,
		Name:         in.ChatName,
		FilePath:     key,
		DocumentName: in.DocumentName,
		DocumentPath: in.DocumentPath,
		DocumentID:   in.DocumentID,
		LastUpdate:   s.now().UTC(),
	}
	if err := s.chatRepo.Upsert(ctx, chat); err != nil {
		log.Errorf("[ChatHistoryService] 写入聊天元数据失败, chat_id: %s, error: %v", in.ChatID, err)
		return wrap(ErrServiceUnavailable, err)
	}
	log.Infof("[ChatHistoryService] 聊天已保存, chat_id: %s, 消息数: %d", in.ChatID, len(in.Messages))
	return nil
}

// Load 按最近更新时间倒序返回所有聊天。聊天记录对象缺失的行会被跳过。
func (s *chatHistoryService) Load(ctx context.Context) ([]model.ChatRecord, error) {
	chats, err := s.chatRepo.ListByLastUpdate(ctx)
	if err != nil {
		return nil, wrap(ErrServiceUnavailable, err)
	}

	records := make([]model.ChatRecord, 0, len(chats))
	for _, c := range chats {
		data, err := s.store.Get(ctx, c.FilePath)
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warnf("[ChatHistoryService] 聊天记录对象不存在, 跳过 chat_id: %s", c.ID)
			continue
		}
		if err != nil {
			return nil, wrap(ErrServiceUnavailable, err)
		}

		var messages []model.ChatMessage
		if err := json.Unmarshal(data, &messages); err != nil {
			log.Warnf("[ChatHistoryService] 聊天记录无法解析, 跳过 chat_id: %s, error: %v", c.ID, err)
			continue
		}
		if messages == nil {
			messages = []model.ChatMessage{}
		}
		records = append(records, model.ChatRecord{
			ID:           c.ID,
			ChatName:     c.Name,
			Messages:     messages,
			DocumentName: c.DocumentName,
			DocumentPath: c.DocumentPath,
			DocumentID:   c.DocumentID,
		})
	}
	return records, nil
}

// Delete 删除元数据行，然后尽力删除聊天记录和关联的 PDF，并安排清理文档分块。
func (s *chatHistoryService) Delete(ctx context.Context, chatID string) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}

	chat, err := s.chatRepo.DeleteByID(ctx, chatID)
	if repository.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err != nil {
		return wrap(ErrServiceUnavailable, err)
	}

	if chat.FilePath != "" {
		if err := s.store.Delete(ctx, chat.FilePath); err != nil {
			log.Warnf("[ChatHistoryService] 删除聊天记录对象失败, key: %s, error: %v", chat.FilePath, err)
		}
	}
	if p := deref(chat.DocumentPath); p != "" {
		if err := s.store.Delete(ctx, p); err != nil {
			log.Warnf("[ChatHistoryService] 删除文档对象失败, key: %s, error: %v", p, err)
		}
	}
	if id := deref(chat.DocumentID); id != "" {
		task := tasks.DocumentCleanupTask{DocumentID: id, ObjectKey: deref(chat.DocumentPath), Reason: tasks.ReasonChatDeleted}
		if err := s.publisher.PublishCleanup(ctx, task); err != nil {
			log.Warnf("[ChatHistoryService] 投递文档清理任务失败, document_id: %s, error: %v", id, err)
		}
	}

	log.Infof("[ChatHistoryService] 聊天已删除, chat_id: %s", chatID)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
