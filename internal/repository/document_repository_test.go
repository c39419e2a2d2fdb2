package repository

import (
	"context"
	"testing"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/testutil"
)

func TestDocumentLifecycle(t *testing.T) {
	repo := NewDocumentRepository(testutil.NewTestDB(t))
	ctx := context.Background()

	doc := &model.Document{ID: "d1", FileName: "a.pdf", ObjectKey: model.DocumentObjectKey("d1", "a.pdf")}
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.FindByID(ctx, "d1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != model.DocumentStatusIndexing || got.ObjectKey != "pdf_store/d1_a.pdf" {
		t.Fatalf("unexpected row: %+v", got)
	}

	if err := repo.MarkIndexed(ctx, "d1", 7); err != nil {
		t.Fatalf("mark indexed: %v", err)
	}
	got, _ = repo.FindByID(ctx, "d1")
	if got.Status != model.DocumentStatusIndexed || got.ChunkCount != 7 {
		t.Fatalf("after MarkIndexed: %+v", got)
	}

	if err := repo.MarkFailed(ctx, "d1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ = repo.FindByID(ctx, "d1")
	if got.Status != model.DocumentStatusFailed {
		t.Fatalf("after MarkFailed: %+v", got)
	}

	if err := repo.Delete(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByID(ctx, "d1"); !IsNotFound(err) {
		t.Fatalf("want not found after delete, got=%v", err)
	}
	if err := repo.Delete(ctx, "d1"); err != nil {
		t.Fatalf("deleting a missing row should be a no-op: %v", err)
	}
}
