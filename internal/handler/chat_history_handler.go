package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
)

// ChatHistoryHandler 处理聊天记录的加载、保存与删除。
type ChatHistoryHandler struct {
	service service.ChatHistoryService
}

// NewChatHistoryHandler 创建一个新的 ChatHistoryHandler。
func NewChatHistoryHandler(service service.ChatHistoryService) *ChatHistoryHandler {
	return &ChatHistoryHandler{service: service}
}

// SaveChatRequest 是 POST /save_chat 的请求体。
type SaveChatRequest struct {
	ChatID       string              `json:"chat_id" binding:"required"`
	ChatName     string              `json:"chat_name"`
	Messages     []model.ChatMessage `json:"messages" binding:"dive"`
	DocumentName *string             `json:"pdf_name"`
	DocumentPath *string             `json:"pdf_path"`
	DocumentID   *string             `json:"pdf_uuid"`
}

// DeleteChatRequest 是 POST /delete_chat 的请求体。
type DeleteChatRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

// LoadChats 处理 GET /load_chat，按最近更新时间倒序返回所有聊天。
func (h *ChatHistoryHandler) LoadChats(c *gin.Context) {
	records, err := h.service.Load(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// SaveChat 处理 POST /save_chat。
func (h *ChatHistoryHandler) SaveChat(c *gin.Context) {
	var req SaveChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	err := h.service.Save(c.Request.Context(), service.SaveChatInput{
		ChatID:       req.ChatID,
		ChatName:     req.ChatName,
		Messages:     req.Messages,
		DocumentName: req.DocumentName,
		DocumentPath: req.DocumentPath,
		DocumentID:   req.DocumentID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat saved successfully"})
}

// DeleteChat 处理 POST /delete_chat，未知的聊天返回 404。
func (h *ChatHistoryHandler) DeleteChat(c *gin.Context) {
	var req DeleteChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), req.ChatID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully"})
}
