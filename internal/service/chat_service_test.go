package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/testutil"
	"rag-chat-go/pkg/llm"
)

type collector struct {
	chunks []string
}

func (c *collector) WriteChunk(s string) error {
	c.chunks = append(c.chunks, s)
	return nil
}

func (c *collector) text() string { return strings.Join(c.chunks, "") }

func newChatFixture(chunks ...model.EsChunk) (ChatService, *testutil.FakeLLM, *testutil.FakeChunkStore, *testutil.FakeEmbedder) {
	fakeLLM := &testutil.FakeLLM{StreamChunks: []string{"Hel", "lo", "!"}, CompleteText: "standalone question"}
	store := &testutil.FakeChunkStore{Chunks: chunks}
	embedder := &testutil.FakeEmbedder{}
	svc := NewChatService(fakeLLM, NewRetriever(embedder, store, 5), config.LLMConfig{})
	return svc, fakeLLM, store, embedder
}

func TestStreamChatForwardsMessagesAndStreams(t *testing.T) {
	svc, fakeLLM, _, _ := newChatFixture()
	out := &collector{}

	msgs := []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}
	if err := svc.StreamChat(context.Background(), msgs, out); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if len(out.chunks) == 0 || out.text() != "Hello!" {
		t.Fatalf("chunks=%v", out.chunks)
	}
	if len(fakeLLM.StreamCalls) != 1 || len(fakeLLM.StreamCalls[0]) != 1 || fakeLLM.StreamCalls[0][0].Content != "hi" {
		t.Fatalf("messages not forwarded as-is: %+v", fakeLLM.StreamCalls)
	}
}

func TestStreamChatRejectsEmpty(t *testing.T) {
	svc, _, _, _ := newChatFixture()
	if err := svc.StreamChat(context.Background(), nil, &collector{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got=%v", err)
	}
}

func TestStreamChatUpstreamFailure(t *testing.T) {
	svc, fakeLLM, _, _ := newChatFixture()
	fakeLLM.StreamErr = testutil.ErrInjected

	err := svc.StreamChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}, &collector{})
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want ErrGenerationFailed, got=%v", err)
	}
}

func TestStreamChatCancelledIsNotUpstreamFailure(t *testing.T) {
	svc, _, _, _ := newChatFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.StreamChat(ctx, []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}, &collector{})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want context.Canceled only, got=%v", err)
	}
}

func TestRAGEmptyHistorySkipsReformulation(t *testing.T) {
	svc, fakeLLM, store, embedder := newChatFixture(model.EsChunk{DocumentID: "doc-a", TextContent: "A1"})

	msgs := []model.ChatMessage{{Role: model.RoleUser, Content: "What is in the paper?"}}
	if err := svc.StreamRAGChat(context.Background(), msgs, "doc-a", &collector{}); err != nil {
		t.Fatalf("StreamRAGChat: %v", err)
	}
	if len(fakeLLM.CompleteCalls) != 0 {
		t.Fatalf("reformulation must not run without history")
	}
	if len(embedder.Inputs) != 1 || embedder.Inputs[0] != "What is in the paper?" {
		t.Fatalf("retrieval query=%v want latest message unchanged", embedder.Inputs)
	}
	if len(store.Searches) != 1 || store.Searches[0].K != 5 {
		t.Fatalf("searches=%+v", store.Searches)
	}
}

func TestRAGReformulatesWithHistory(t *testing.T) {
	svc, fakeLLM, _, embedder := newChatFixture()

	msgs := []model.ChatMessage{
		{Role: model.RoleUser, Content: "Who wrote the paper?"},
		{Role: model.RoleAssistant, Content: "Alice."},
		{Role: model.RoleUser, Content: "Where does she work?"},
	}
	if err := svc.StreamRAGChat(context.Background(), msgs, "doc-a", &collector{}); err != nil {
		t.Fatalf("StreamRAGChat: %v", err)
	}

	if len(fakeLLM.CompleteCalls) != 1 {
		t.Fatalf("want one reformulation call, got=%d", len(fakeLLM.CompleteCalls))
	}
	call := fakeLLM.CompleteCalls[0]
	if call[0].Role != model.RoleSystem || call[0].Content != DefaultContextualizePrompt {
		t.Fatalf("first message must be the contextualize prompt: %+v", call[0])
	}
	if len(call) != 4 || call[3].Content != "Where does she work?" {
		t.Fatalf("reformulation messages=%+v", call)
	}
	if embedder.Inputs[0] != "standalone question" {
		t.Fatalf("retrieval should use the reformulated query, got=%q", embedder.Inputs[0])
	}

	// 回答阶段使用原问题，历史不含最后一条
	answer := fakeLLM.StreamCalls[0]
	if len(answer) != 4 || answer[1].Content != "Who wrote the paper?" || answer[3].Content != "Where does she work?" {
		t.Fatalf("answer messages=%+v", answer)
	}
}

func TestRAGAnswerPromptContainsOnlyScopedChunks(t *testing.T) {
	svc, fakeLLM, _, _ := newChatFixture(
		model.EsChunk{DocumentID: "doc-a", TextContent: "alpha one"},
		model.EsChunk{DocumentID: "doc-b", TextContent: "beta one"},
		model.EsChunk{DocumentID: "doc-a", TextContent: "alpha two"},
	)

	if err := svc.StreamRAGChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "q"}}, "doc-a", &collector{}); err != nil {
		t.Fatalf("StreamRAGChat: %v", err)
	}
	system := fakeLLM.StreamCalls[0][0]
	if system.Role != model.RoleSystem {
		t.Fatalf("first answer message role=%s", system.Role)
	}
	if !strings.Contains(system.Content, "alpha one\n\nalpha two") {
		t.Fatalf("context missing: %q", system.Content)
	}
	if strings.Contains(system.Content, "beta") {
		t.Fatalf("chunk from another document leaked into context: %q", system.Content)
	}
	if strings.Contains(system.Content, contextPlaceholder) {
		t.Fatalf("placeholder not replaced")
	}
}

func TestRAGEmptyRetrievalIsNotAnError(t *testing.T) {
	svc, fakeLLM, _, _ := newChatFixture()
	out := &collector{}
	if err := svc.StreamRAGChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "q"}}, "nothing-here", out); err != nil {
		t.Fatalf("StreamRAGChat: %v", err)
	}
	if out.text() == "" || len(fakeLLM.StreamCalls) != 1 {
		t.Fatalf("answer should still be generated")
	}
}

func TestRAGErrorMapping(t *testing.T) {
	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleAssistant, Content: "b"},
		{Role: model.RoleUser, Content: "c"},
	}
	cases := []struct {
		name  string
		setup func(*testutil.FakeLLM, *testutil.FakeChunkStore, *testutil.FakeEmbedder)
		want  error
	}{
		{"reformulation", func(l *testutil.FakeLLM, _ *testutil.FakeChunkStore, _ *testutil.FakeEmbedder) {
			l.CompleteErr = testutil.ErrInjected
		}, ErrReformulationFailed},
		{"embedding", func(_ *testutil.FakeLLM, _ *testutil.FakeChunkStore, e *testutil.FakeEmbedder) {
			e.Err = testutil.ErrInjected
		}, ErrRetrievalUnavailable},
		{"vector index", func(_ *testutil.FakeLLM, s *testutil.FakeChunkStore, _ *testutil.FakeEmbedder) {
			s.SearchErr = testutil.ErrInjected
		}, ErrRetrievalUnavailable},
		{"generation", func(l *testutil.FakeLLM, _ *testutil.FakeChunkStore, _ *testutil.FakeEmbedder) {
			l.StreamErr = testutil.ErrInjected
		}, ErrGenerationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, fakeLLM, store, embedder := newChatFixture()
			tc.setup(fakeLLM, store, embedder)
			out := &collector{}

			err := svc.StreamRAGChat(context.Background(), history, "doc-a", out)
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrServiceUnavailable) || !errors.Is(err, testutil.ErrInjected) {
				t.Fatalf("want %v, got=%v", tc.want, err)
			}
			if len(out.chunks) != 0 {
				t.Fatalf("nothing should be streamed on failure, got=%v", out.chunks)
			}
		})
	}
}

func TestRAGRequiresDocumentID(t *testing.T) {
	svc, _, _, _ := newChatFixture()
	err := svc.StreamRAGChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "q"}}, " ", &collector{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got=%v", err)
	}
}

func TestCustomPromptsFromConfig(t *testing.T) {
	fakeLLM := &testutil.FakeLLM{StreamChunks: []string{"x"}}
	store := &testutil.FakeChunkStore{Chunks: []model.EsChunk{{DocumentID: "d", TextContent: "ctx"}}}
	svc := NewChatService(fakeLLM, NewRetriever(&testutil.FakeEmbedder{}, store, 5), config.LLMConfig{
		Prompt: config.LLMPromptConfig{Answer: "Answer from: {context}"},
	})
	if err := svc.StreamRAGChat(context.Background(), []model.ChatMessage{{Role: model.RoleUser, Content: "q"}}, "d", llm.ChunkWriterFunc(func(string) error { return nil })); err != nil {
		t.Fatalf("StreamRAGChat: %v", err)
	}
	if got := fakeLLM.StreamCalls[0][0].Content; got != "Answer from: ctx" {
		t.Fatalf("system prompt=%q", got)
	}
}
