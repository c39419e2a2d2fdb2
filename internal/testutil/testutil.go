// Package testutil 提供测试用的数据库和外部依赖替身。
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/database"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tasks"
)

// NewTestDB 返回一个已迁移的 sqlite 数据库，测试结束后自动关闭。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// MemoryObjectStore 是 storage.ObjectStore 的内存实现。
type MemoryObjectStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
	// 以下字段用于注入失败：键命中时返回对应错误
	PutErr    map[string]error
	GetErr    map[string]error
	DeleteErr map[string]error
	// PutHook 在写入前被调用，返回非 nil 时写入失败
	PutHook func(key string) error
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		Objects:   map[string][]byte{},
		Types:     map[string]string{},
		PutErr:    map[string]error{},
		GetErr:    map[string]error{},
		DeleteErr: map[string]error{},
	}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.PutErr[key]; err != nil {
		return err
	}
	if m.PutHook != nil {
		if err := m.PutHook(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.Objects[key] = data
	m.Types[key] = contentType
	return nil
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GetErr[key]; err != nil {
		return nil, err
	}
	data, ok := m.Objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return bytes.Clone(data), nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.DeleteErr[key]; err != nil {
		return err
	}
	delete(m.Objects, key)
	return nil
}

// Keys 返回当前所有对象键，已排序。
func (m *MemoryObjectStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.Objects))
	for k := range m.Objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FakeChunkStore 是 es.ChunkStore 的内存实现。检索时按写入顺序返回同一文档的前 k 个分块。
type FakeChunkStore struct {
	mu        sync.Mutex
	Chunks    []model.EsChunk
	IndexErr  error
	SearchErr error
	DeleteErr error
	Searches  []Search
}

// Search 记录一次检索调用。
type Search struct {
	DocumentID string
	Vector     []float32
	K          int
}

func (f *FakeChunkStore) IndexChunks(_ context.Context, chunks []model.EsChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IndexErr != nil {
		return f.IndexErr
	}
	f.Chunks = append(f.Chunks, chunks...)
	return nil
}

func (f *FakeChunkStore) SearchByDocument(_ context.Context, documentID string, vector []float32, k int) ([]model.ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Searches = append(f.Searches, Search{DocumentID: documentID, Vector: vector, K: k})
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var hits []model.ChunkHit
	for _, c := range f.Chunks {
		if c.DocumentID != documentID {
			continue
		}
		hits = append(hits, model.ChunkHit{EsChunk: c, Score: 1})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (f *FakeChunkStore) DeleteByDocument(_ context.Context, documentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return 0, f.DeleteErr
	}
	kept := f.Chunks[:0]
	var n int64
	for _, c := range f.Chunks {
		if c.DocumentID == documentID {
			n++
			continue
		}
		kept = append(kept, c)
	}
	f.Chunks = kept
	return n, nil
}

// CountFor 返回某个文档当前的分块数。
func (f *FakeChunkStore) CountFor(documentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

// FakeEmbedder 返回由文本长度决定的固定维度向量。
type FakeEmbedder struct {
	Dims int
	Err  error

	mu     sync.Mutex
	Inputs []string
}

func (f *FakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.Inputs = append(f.Inputs, text)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	dims := f.Dims
	if dims == 0 {
		dims = 4
	}
	vec := make([]float32, dims)
	vec[0] = float32(len(text))
	return vec, nil
}

func (f *FakeEmbedder) ModelVersion() string { return "fake-embedding" }

// FakeLLM 按预设内容回放流式输出，并记录每次调用收到的消息。
type FakeLLM struct {
	StreamChunks []string
	StreamErr    error
	// StreamErrAfter 为正数时，在写出这么多个分块之后返回 StreamErr
	StreamErrAfter int
	CompleteText   string
	CompleteErr    error
	// Hold 为 true 时，写完分块后一直阻塞到 ctx 被取消
	Hold bool

	mu            sync.Mutex
	StreamCalls   [][]llm.Message
	CompleteCalls [][]llm.Message
}

func (f *FakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.ChunkWriter) error {
	f.mu.Lock()
	f.StreamCalls = append(f.StreamCalls, messages)
	f.mu.Unlock()
	if f.StreamErr != nil && f.StreamErrAfter <= 0 {
		return f.StreamErr
	}
	for i, c := range f.StreamChunks {
		if f.StreamErr != nil && i == f.StreamErrAfter {
			return f.StreamErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteChunk(c); err != nil {
			return err
		}
	}
	if f.StreamErr != nil {
		return f.StreamErr
	}
	if f.Hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *FakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.CompleteCalls = append(f.CompleteCalls, messages)
	f.mu.Unlock()
	if f.CompleteErr != nil {
		return "", f.CompleteErr
	}
	return f.CompleteText, nil
}

// FakePublisher 记录投递的清理任务。
type FakePublisher struct {
	mu    sync.Mutex
	Tasks []tasks.DocumentCleanupTask
	Err   error
}

func (p *FakePublisher) PublishCleanup(_ context.Context, task tasks.DocumentCleanupTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Tasks = append(p.Tasks, task)
	return nil
}

// ErrInjected 是测试中注入的通用失败。
var ErrInjected = errors.New("injected failure")
