package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatRequest 是 POST /chat 的请求体。
type ChatRequest struct {
	Messages []model.ChatMessage `json:"messages" binding:"required,min=1,dive"`
}

// RAGChatRequest 是 POST /rag_chat 的请求体。
type RAGChatRequest struct {
	Messages   []model.ChatMessage `json:"messages" binding:"required,min=1,dive"`
	DocumentID string              `json:"pdf_uuid" binding:"required"`
}

// ChatHandler 负责普通对话、RAG 对话以及 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// textStreamWriter 把生成的片段逐个写入响应并立即 flush。
// 第一个片段写出之前不提交状态码，这样失败时仍然可以返回 JSON 错误。
type textStreamWriter struct {
	c       *gin.Context
	started bool
}

func (w *textStreamWriter) WriteChunk(chunk string) error {
	if chunk == "" {
		return nil
	}
	w.begin()
	if _, err := w.c.Writer.WriteString(chunk); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *textStreamWriter) begin() {
	if w.started {
		return
	}
	w.c.Header("Content-Type", "text/plain; charset=utf-8")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("X-Content-Type-Options", "nosniff")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
	w.started = true
}

func (h *ChatHandler) finishStream(c *gin.Context, w *textStreamWriter, err error) {
	switch {
	case err == nil:
		w.begin()
	case c.Request.Context().Err() != nil:
		log.Infof("[ChatHandler] 客户端已断开, path: %s", c.FullPath())
	case w.started:
		// 状态码已经发出，只能截断响应
		log.Errorf("[ChatHandler] 流式输出中途失败, path: %s, error: %v", c.FullPath(), err)
	default:
		writeError(c, err)
	}
}

// Chat 处理 POST /chat，流式返回模型的回答。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	w := &textStreamWriter{c: c}
	err := h.chatService.StreamChat(c.Request.Context(), req.Messages, w)
	h.finishStream(c, w, err)
}

// RAGChat 处理 POST /rag_chat，基于指定文档回答最后一条消息。
func (h *ChatHandler) RAGChat(c *gin.Context) {
	var req RAGChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	w := &textStreamWriter{c: c}
	err := h.chatService.StreamRAGChat(c.Request.Context(), req.Messages, req.DocumentID, w)
	h.finishStream(c, w, err)
}

// wsFrame 是客户端发来的 WebSocket 帧。
type wsFrame struct {
	Type       string              `json:"type"`
	Messages   []model.ChatMessage `json:"messages"`
	DocumentID string              `json:"pdf_uuid"`
}

const (
	frameChat = "chat"
	frameRAG  = "rag"
	frameStop = "stop"
)

// wsSession 保存单个连接的状态。同一时刻最多只有一个流在输出。
type wsSession struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla/websocket 不允许并发写

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// stop 取消正在输出的流并等待它退出，返回是否真的有流被取消。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return cancel != nil
}

func (s *wsSession) start(parent context.Context, run func(ctx context.Context, w llm.ChunkWriter) error) {
	s.stop()

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		w := llm.ChunkWriterFunc(func(chunk string) error {
			if chunk == "" {
				return nil
			}
			return s.writeJSON(gin.H{"chunk": chunk})
		})
		err := run(ctx, w)
		if ctx.Err() != nil {
			// 被 stop 或连接关闭打断，确认帧由调用方发送
			return
		}
		if err != nil {
			_, detail := classify(err)
			log.Errorf("[ChatHandler] WebSocket 流式输出失败: %v", err)
			_ = s.writeJSON(gin.H{"error": detail})
		}
		_ = s.writeJSON(gin.H{"type": "completion", "status": "finished"})

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()
}

// HandleWebSocket 处理 GET /ws/chat。
func (h *ChatHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}

	ctx, cancelAll := context.WithCancel(c.Request.Context())
	sess := &wsSession{conn: conn}
	defer func() {
		cancelAll()
		sess.wg.Wait()
		_ = conn.Close()
	}()
	log.Infof("[ChatHandler] WebSocket 连接已建立, remote: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			_ = sess.writeJSON(gin.H{"error": detailInvalidBody})
			continue
		}

		switch frame.Type {
		case frameStop:
			if sess.stop() {
				log.Info("[ChatHandler] 收到停止指令，已中断流式响应")
			}
			_ = sess.writeJSON(gin.H{"type": frameStop, "message": "Response stopped"})
		case frameChat:
			msgs := frame.Messages
			sess.start(ctx, func(ctx context.Context, w llm.ChunkWriter) error {
				return h.chatService.StreamChat(ctx, msgs, w)
			})
		case frameRAG:
			msgs, docID := frame.Messages, frame.DocumentID
			sess.start(ctx, func(ctx context.Context, w llm.ChunkWriter) error {
				return h.chatService.StreamRAGChat(ctx, msgs, docID, w)
			})
		default:
			_ = sess.writeJSON(gin.H{"error": "unknown frame type"})
		}
	}
}
