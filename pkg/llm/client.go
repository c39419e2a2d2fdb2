// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"rag-chat-go/internal/config"
)

// ChunkWriter 接收流式生成的文本增量。HTTP 响应和 WebSocket 连接都通过它输出。
type ChunkWriter interface {
	WriteChunk(chunk string) error
}

// ChunkWriterFunc 让普通函数满足 ChunkWriter。
type ChunkWriterFunc func(chunk string) error

func (f ChunkWriterFunc) WriteChunk(chunk string) error { return f(chunk) }

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息调用聊天接口，并将每个非空增量写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer ChunkWriter) error
	// Complete 以非流式方式调用聊天接口并返回完整回复。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates an OpenAI-compatible chat client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.LLMConfig, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: httpClient,
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// GenerationFromConfig 把配置中的非零生成参数转换为 GenerationParams。
func GenerationFromConfig(g config.LLMGenerationConfig) *GenerationParams {
	p := &GenerationParams{}
	if g.Temperature != 0 {
		t := g.Temperature
		p.Temperature = &t
	}
	if g.TopP != 0 {
		tp := g.TopP
		p.TopP = &tp
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

func (c *openAICompatibleClient) newRequest(ctx context.Context, messages []Message, gen *GenerationParams, stream bool) (*http.Request, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	// 传参优先，否则使用全局配置
	if gen == nil {
		gen = GenerationFromConfig(c.cfg.Generation)
	}
	reqBody.Temperature = gen.Temperature
	reqBody.TopP = gen.TopP
	reqBody.MaxTokens = gen.MaxTokens

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *openAICompatibleClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	req, err := c.newRequest(ctx, messages, gen, false)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *openAICompatibleClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer ChunkWriter) error {
	req, err := c.newRequest(ctx, messages, gen, true)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			done, werr := handleStreamLine(line, writer)
			if werr != nil {
				return werr
			}
			if done {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}
	}
}

// handleStreamLine 处理一行 SSE 数据，返回是否已收到 [DONE]。
func handleStreamLine(line string, writer ChunkWriter) (bool, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return true, nil
	}

	var chunk streamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return false, nil
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return false, nil
	}
	if err := writer.WriteChunk(chunk.Choices[0].Delta.Content); err != nil {
		return false, fmt.Errorf("failed to write chunk: %w", err)
	}
	return false, nil
}
