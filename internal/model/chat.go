// Package model 包含了应用的数据模型定义。
package model

import (
	"fmt"
	"time"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage 代表一条带角色的对话消息，整段对话以 JSON 数组存放在对象存储中。
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// Chat 对应于数据库中的 advanced_chats 表，只保存元数据；
// 消息本身存放在 FilePath 指向的对象中。
type Chat struct {
	ID           string    `gorm:"type:varchar(64);primaryKey;column:id"`
	Name         string    `gorm:"type:varchar(255);not null;column:name"`
	FilePath     string    `gorm:"type:varchar(512);not null;column:file_path"`
	DocumentName *string   `gorm:"type:varchar(255);column:pdf_name"`
	DocumentPath *string   `gorm:"type:varchar(512);column:pdf_path"`
	DocumentID   *string   `gorm:"type:varchar(64);index;column:pdf_uuid"`
	LastUpdate   time.Time `gorm:"not null;index;column:last_update"`
}

func (Chat) TableName() string {
	return "advanced_chats"
}

// TranscriptKey 返回聊天记录在对象存储中的键，由聊天 ID 唯一确定。
func TranscriptKey(chatID string) string {
	return fmt.Sprintf("chat_logs/%s.json", chatID)
}

// ChatRecord 是 /load_chat 返回的单条聊天记录。
type ChatRecord struct {
	ID           string        `json:"id"`
	ChatName     string        `json:"chat_name"`
	Messages     []ChatMessage `json:"messages"`
	DocumentName *string       `json:"pdf_name"`
	DocumentPath *string       `json:"pdf_path"`
	DocumentID   *string       `json:"pdf_uuid"`
}
