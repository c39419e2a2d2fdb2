// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
)

// 内置提示词，可以通过 llm.prompt 配置覆盖。
const (
	DefaultContextualizePrompt = "Given a chat history and the latest user question " +
		"which might reference context in the chat history, " +
		"formulate a standalone question which can be understood " +
		"without the chat history. Do NOT answer the question, " +
		"just reformulate it if needed and otherwise return it as is."

	DefaultAnswerPrompt = "You are an assistant for question-answering tasks. " +
		"Use the following pieces of retrieved context to answer " +
		"the question. If you don't know the answer, say that you " +
		"don't know. Use three sentences maximum and keep the " +
		"answer concise." +
		"\n\n" +
		"{context}"

	contextPlaceholder = "{context}"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamChat 把消息原样交给模型，并把生成的片段依次写入 w。
	StreamChat(ctx context.Context, messages []model.ChatMessage, w llm.ChunkWriter) error
	// StreamRAGChat 基于指定文档的检索结果回答最后一条消息。
	StreamRAGChat(ctx context.Context, messages []model.ChatMessage, documentID string, w llm.ChunkWriter) error
}

type chatService struct {
	llmClient           llm.Client
	retriever           Retriever
	gen                 *llm.GenerationParams
	contextualizePrompt string
	answerPrompt        string
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, retriever Retriever, cfg config.LLMConfig) ChatService {
	s := &chatService{
		llmClient:           llmClient,
		retriever:           retriever,
		gen:                 llm.GenerationFromConfig(cfg.Generation),
		contextualizePrompt: cfg.Prompt.Contextualize,
		answerPrompt:        cfg.Prompt.Answer,
	}
	if strings.TrimSpace(s.contextualizePrompt) == "" {
		s.contextualizePrompt = DefaultContextualizePrompt
	}
	if strings.TrimSpace(s.answerPrompt) == "" {
		s.answerPrompt = DefaultAnswerPrompt
	}
	return s
}

func (s *chatService) StreamChat(ctx context.Context, messages []model.ChatMessage, w llm.ChunkWriter) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidInput)
	}
	log.Infof("[ChatService] 普通对话, 消息数: %d", len(messages))
	return s.stream(ctx, toLLMMessages(messages), w)
}

func (s *chatService) StreamRAGChat(ctx context.Context, messages []model.ChatMessage, documentID string, w llm.ChunkWriter) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: pdf_uuid is required", ErrInvalidInput)
	}

	// 1. 拆分历史与最新问题
	history, latest := splitHistory(messages)
	log.Infof("[ChatService] RAG 对话, document_id: %s, 历史消息数: %d", documentID, len(history))

	// 2. 结合历史改写为独立问题
	query, err := s.reformulate(ctx, history, latest)
	if err != nil {
		return err
	}

	// 3. 在文档范围内检索
	hits, err := s.retriever.Retrieve(ctx, documentID, query)
	if err != nil {
		return err
	}

	// 4. 组装回答请求并流式输出
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: s.buildAnswerPrompt(hits)})
	msgs = append(msgs, history...)
	msgs = append(msgs, latest)
	return s.stream(ctx, msgs, w)
}

// reformulate 历史为空时直接返回原问题，不调用模型。
func (s *chatService) reformulate(ctx context.Context, history []llm.Message, latest llm.Message) (string, error) {
	if len(history) == 0 {
		return latest.Content, nil
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: s.contextualizePrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, latest)

	standalone, err := s.llmClient.Complete(ctx, msgs, s.gen)
	if err != nil {
		log.Errorf("[ChatService] 问题改写失败: %v", err)
		return "", wrap(ErrReformulationFailed, err)
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return latest.Content, nil
	}
	log.Debugf("[ChatService] 改写后的问题: %s", standalone)
	return standalone, nil
}

func (s *chatService) buildAnswerPrompt(hits []model.ChunkHit) string {
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.TextContent)
	}
	return strings.ReplaceAll(s.answerPrompt, contextPlaceholder, strings.Join(texts, "\n\n"))
}

func (s *chatService) stream(ctx context.Context, msgs []llm.Message, w llm.ChunkWriter) error {
	err := s.llmClient.StreamChatMessages(ctx, msgs, s.gen, w)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// 客户端断开或主动停止，不算上游故障
		return ctxErr
	}
	log.Errorf("[ChatService] 生成失败: %v", err)
	return wrap(ErrGenerationFailed, err)
}

// splitHistory 把最后一条消息作为问题，其余 user/assistant 消息作为历史。
func splitHistory(messages []model.ChatMessage) ([]llm.Message, llm.Message) {
	last := messages[len(messages)-1]
	history := make([]llm.Message, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	return history, llm.Message{Role: model.RoleUser, Content: last.Content}
}

func toLLMMessages(messages []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
