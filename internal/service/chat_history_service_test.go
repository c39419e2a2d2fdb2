package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/testutil"
	"rag-chat-go/pkg/tasks"
)

type historyFixture struct {
	svc       *chatHistoryService
	repo      repository.ChatRepository
	store     *testutil.MemoryObjectStore
	publisher *testutil.FakePublisher
	clock     time.Time
}

func newHistoryFixture(t *testing.T) *historyFixture {
	t.Helper()
	f := &historyFixture{
		repo:      repository.NewChatRepository(testutil.NewTestDB(t)),
		store:     testutil.NewMemoryObjectStore(),
		publisher: &testutil.FakePublisher{},
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewChatHistoryService(f.repo, f.store, f.publisher).(*chatHistoryService)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// tick 推进时钟，保证后续保存的 last_update 严格递增
func (f *historyFixture) tick() { f.clock = f.clock.Add(time.Minute) }

func sp(s string) *string { return &s }

// hasChat 报告元数据表中是否还存在 id 对应的行
func (f *historyFixture) hasChat(t *testing.T, id string) bool {
	t.Helper()
	chats, err := f.repo.ListByLastUpdate(context.Background())
	if err != nil {
		t.Fatalf("ListByLastUpdate: %v", err)
	}
	for _, c := range chats {
		if c.ID == id {
			return true
		}
	}
	return false
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	in := SaveChatInput{
		ChatID:   "chat-1",
		ChatName: "First",
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: "你好"},
			{Role: model.RoleAssistant, Content: "Hi <there>"},
		},
		DocumentName: sp("paper.pdf"),
		DocumentPath: sp("pdf_store/doc-1_paper.pdf"),
		DocumentID:   sp("doc-1"),
	}
	if err := f.svc.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw := string(f.store.Objects[model.TranscriptKey("chat-1")])
	if !strings.Contains(raw, "你好") || !strings.Contains(raw, "<there>") {
		t.Fatalf("transcript should keep non-ASCII and HTML as-is: %s", raw)
	}
	if !strings.Contains(raw, "\n    {") {
		t.Fatalf("transcript should be indented with 4 spaces: %s", raw)
	}

	records, err := f.svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records=%d", len(records))
	}
	r := records[0]
	if r.ID != "chat-1" || r.ChatName != "First" || len(r.Messages) != 2 || r.Messages[0].Content != "你好" {
		t.Fatalf("record=%+v", r)
	}
	if r.DocumentID == nil || *r.DocumentID != "doc-1" || *r.DocumentName != "paper.pdf" {
		t.Fatalf("document fields=%+v", r)
	}
}

func TestSaveIsIdempotentUpsert(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	in := SaveChatInput{ChatID: "c", ChatName: "v1", Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "one"}}}
	if err := f.svc.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.tick()
	in.ChatName = "v2"
	in.Messages = append(in.Messages, model.ChatMessage{Role: model.RoleAssistant, Content: "two"})
	if err := f.svc.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := f.svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].ChatName != "v2" || len(records[0].Messages) != 2 {
		t.Fatalf("records=%+v", records)
	}
	if keys := f.store.Keys(); len(keys) != 1 {
		t.Fatalf("expected a single transcript object, got=%v", keys)
	}
}

func TestLoadOrdersByMostRecent(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	for _, id := range []string{"old", "mid", "new"} {
		if err := f.svc.Save(ctx, SaveChatInput{ChatID: id, ChatName: id}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
		f.tick()
	}
	// 重新保存 old 会把它移到最前
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "old", ChatName: "old"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	records, err := f.svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got []string
	for _, r := range records {
		got = append(got, r.ID)
	}
	if strings.Join(got, ",") != "old,new,mid" {
		t.Fatalf("order=%v", got)
	}
	if records[0].Messages == nil {
		t.Fatalf("empty transcript should load as an empty list, not null")
	}
}

func TestLoadSkipsMissingAndCorruptTranscripts(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	for _, id := range []string{"gone", "broken", "fine"} {
		if err := f.svc.Save(ctx, SaveChatInput{ChatID: id, ChatName: id}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		f.tick()
	}
	delete(f.store.Objects, model.TranscriptKey("gone"))
	f.store.Objects[model.TranscriptKey("broken")] = []byte("{not json")

	records, err := f.svc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].ID != "fine" {
		t.Fatalf("records=%+v", records)
	}
}

func TestLoadStorageFailure(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "c"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.store.GetErr[model.TranscriptKey("c")] = testutil.ErrInjected

	if _, err := f.svc.Load(ctx); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got=%v", err)
	}
}

func TestSaveRejectsBadChatID(t *testing.T) {
	f := newHistoryFixture(t)
	for _, id := range []string{"", "  ", "../etc", `a\b`, "a/b"} {
		err := f.svc.Save(context.Background(), SaveChatInput{ChatID: id})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("id=%q want ErrInvalidInput, got=%v", id, err)
		}
	}
	if len(f.store.Objects) != 0 {
		t.Fatalf("nothing should be written")
	}
}

func TestSaveStorageFailureLeavesNoMetadata(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	f.store.PutErr[model.TranscriptKey("c")] = testutil.ErrInjected

	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "c"}); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("want ErrServiceUnavailable, got=%v", err)
	}
	if f.hasChat(t, "c") {
		t.Fatalf("metadata row must not exist")
	}
}

func TestDeleteUnknownChat(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "keep"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := f.svc.Delete(ctx, "missing"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound, got=%v", err)
	}
	records, _ := f.svc.Load(ctx)
	if len(records) != 1 || len(f.store.Objects) != 1 || len(f.publisher.Tasks) != 0 {
		t.Fatalf("unknown delete must not change anything")
	}
}

func TestDeleteRemovesChatAndSchedulesDocumentCleanup(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	pdfKey := "pdf_store/doc-1_paper.pdf"
	f.store.Objects[pdfKey] = []byte("%PDF")
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "c", DocumentID: sp("doc-1"), DocumentPath: sp(pdfKey), DocumentName: sp("paper.pdf")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "other"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := f.svc.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if f.hasChat(t, "c") {
		t.Fatalf("row should be gone")
	}
	if _, ok := f.store.Objects[model.TranscriptKey("c")]; ok {
		t.Fatalf("transcript should be deleted")
	}
	if _, ok := f.store.Objects[pdfKey]; ok {
		t.Fatalf("pdf should be deleted")
	}
	if _, ok := f.store.Objects[model.TranscriptKey("other")]; !ok {
		t.Fatalf("other chats must be untouched")
	}
	want := tasks.DocumentCleanupTask{DocumentID: "doc-1", ObjectKey: pdfKey, Reason: tasks.ReasonChatDeleted}
	if len(f.publisher.Tasks) != 1 || f.publisher.Tasks[0] != want {
		t.Fatalf("tasks=%+v", f.publisher.Tasks)
	}

	// 第二次删除同一个聊天
	if err := f.svc.Delete(ctx, "c"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound on repeat, got=%v", err)
	}
}

func TestDeleteBestEffortOnBlobAndPublishFailures(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	if err := f.svc.Save(ctx, SaveChatInput{ChatID: "c", DocumentID: sp("doc-1")}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f.store.DeleteErr[model.TranscriptKey("c")] = testutil.ErrInjected
	f.publisher.Err = testutil.ErrInjected

	if err := f.svc.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete should succeed once the row is gone, got=%v", err)
	}
	if f.hasChat(t, "c") {
		t.Fatalf("row should be gone")
	}
}
