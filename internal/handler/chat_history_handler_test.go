package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/service"
	"rag-chat-go/internal/testutil"
)

func newHistoryRouter(t *testing.T) (*gin.Engine, *testutil.MemoryObjectStore, *testutil.FakePublisher) {
	t.Helper()
	store := testutil.NewMemoryObjectStore()
	publisher := &testutil.FakePublisher{}
	svc := service.NewChatHistoryService(repository.NewChatRepository(testutil.NewTestDB(t)), store, publisher)
	h := NewChatHistoryHandler(svc)

	r := gin.New()
	r.GET("/load_chat", h.LoadChats)
	r.POST("/save_chat", h.SaveChat)
	r.POST("/delete_chat", h.DeleteChat)
	return r, store, publisher
}

func loadChats(t *testing.T, r *gin.Engine) []map[string]interface{} {
	t.Helper()
	w := doJSON(t, r, http.MethodGet, "/load_chat", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load status=%d body=%s", w.Code, w.Body.String())
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestSaveLoadDeleteChatOverHTTP(t *testing.T) {
	r, store, publisher := newHistoryRouter(t)

	if got := loadChats(t, r); len(got) != 0 {
		t.Fatalf("want empty list, got=%v", got)
	}

	uuid := "doc-1"
	w := doJSON(t, r, http.MethodPost, "/save_chat", SaveChatRequest{
		ChatID:     "c1",
		ChatName:   "Paper chat",
		Messages:   []model.ChatMessage{{Role: model.RoleUser, Content: "hello"}},
		DocumentID: &uuid,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save status=%d body=%s", w.Code, w.Body.String())
	}
	var msg map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &msg)
	if msg["message"] != "Chat saved successfully" {
		t.Fatalf("save body=%s", w.Body.String())
	}

	chats := loadChats(t, r)
	if len(chats) != 1 {
		t.Fatalf("chats=%v", chats)
	}
	c := chats[0]
	if c["id"] != "c1" || c["chat_name"] != "Paper chat" || c["pdf_uuid"] != "doc-1" {
		t.Fatalf("chat=%v", c)
	}
	if _, ok := c["pdf_name"]; !ok || c["pdf_name"] != nil {
		t.Fatalf("pdf_name should be present and null: %v", c)
	}
	if msgs, ok := c["messages"].([]interface{}); !ok || len(msgs) != 1 {
		t.Fatalf("messages=%v", c["messages"])
	}

	w = doJSON(t, r, http.MethodPost, "/delete_chat", DeleteChatRequest{ChatID: "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w.Code, w.Body.String())
	}
	if len(store.Objects) != 0 || len(publisher.Tasks) != 1 {
		t.Fatalf("objects=%v tasks=%v", store.Keys(), publisher.Tasks)
	}
	if got := loadChats(t, r); len(got) != 0 {
		t.Fatalf("want empty list after delete, got=%v", got)
	}
}

func TestDeleteUnknownChatIs404(t *testing.T) {
	r, _, _ := newHistoryRouter(t)
	w := doJSON(t, r, http.MethodPost, "/delete_chat", DeleteChatRequest{ChatID: "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if e := decodeError(t, w); e.Code != http.StatusNotFound || e.Detail != "Chat not found" {
		t.Fatalf("error=%+v", e)
	}
}

func TestSaveChatValidation(t *testing.T) {
	r, _, _ := newHistoryRouter(t)

	w := doJSON(t, r, http.MethodPost, "/save_chat", map[string]interface{}{"chat_name": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing chat_id: status=%d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/save_chat", SaveChatRequest{ChatID: "../x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad chat_id: status=%d", w.Code)
	}
}

func TestLoadChatStorageFailureIs503(t *testing.T) {
	r, store, _ := newHistoryRouter(t)
	if w := doJSON(t, r, http.MethodPost, "/save_chat", SaveChatRequest{ChatID: "c"}); w.Code != http.StatusOK {
		t.Fatalf("save status=%d", w.Code)
	}
	store.GetErr[model.TranscriptKey("c")] = testutil.ErrInjected

	w := doJSON(t, r, http.MethodGet, "/load_chat", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}
