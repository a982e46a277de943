package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func openTestStore(t *testing.T) *ChunkStore {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	chunks := []domain.Chunk{
		{ID: "w0", DocumentID: "webhooks", ChunkIndex: 0, URL: "https://docs.example.com/webhooks", Title: "Webhooks", Content: "Webhooks deliver events to your endpoint.", ContentType: domain.ContentTypeProse, Project: "mina"},
		{ID: "w1", DocumentID: "webhooks", ChunkIndex: 1, URL: "https://docs.example.com/webhooks", Title: "Webhooks", Section: "Retries", Content: "Failed deliveries are retried with exponential backoff.", ContentType: domain.ContentTypeProse, Project: "mina"},
		{ID: "w2", DocumentID: "webhooks", ChunkIndex: 2, URL: "https://docs.example.com/webhooks", Title: "Webhooks", Content: "client.Webhooks.Retry(ctx, id)", ContentType: domain.ContentTypeCode, Project: "mina"},
		{ID: "o0", DocumentID: "other", ChunkIndex: 0, URL: "https://docs.example.com/other", Title: "Retries elsewhere", Content: "Retries in another project.", ContentType: domain.ContentTypeProse, Project: "zeta"},
	}
	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return store
}

func TestSearchRanksAndFiltersByProject(t *testing.T) {
	store := openTestStore(t)

	results, err := store.Search(context.Background(), "webhook retries backoff", 10, domain.SearchFilter{Project: "mina"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected results")
	}
	if results[0].Chunk.ID != "w1" {
		t.Fatalf("expected retries chunk first, got %s", results[0].Chunk.ID)
	}
	for _, r := range results {
		if r.Chunk.Project != "mina" {
			t.Fatalf("unexpected project %q", r.Chunk.Project)
		}
		if r.MatchType != domain.MatchFTS || r.Score <= 0 {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestSearchFiltersByContentType(t *testing.T) {
	store := openTestStore(t)

	results, err := store.Search(context.Background(), "webhooks", 10, domain.SearchFilter{Project: "mina", ContentType: domain.ContentTypeCode})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "w2" {
		t.Fatalf("expected only the code chunk, got %+v", results)
	}
}

func TestSearchTreatsOperatorsLiterally(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Search(context.Background(), `retries" OR NEAR(* -`, 5, domain.SearchFilter{}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	results, err := store.Search(context.Background(), "?!", 5, domain.SearchFilter{})
	if err != nil || results != nil {
		t.Fatalf("expected empty search to short-circuit, got %v, %v", results, err)
	}
}

func TestUpsertReplacesExistingRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []domain.Chunk{{
		ID: "w1", DocumentID: "webhooks", ChunkIndex: 1, URL: "https://docs.example.com/webhooks",
		Title: "Webhooks", Content: "Deliveries are attempted once.", ContentType: domain.ContentTypeProse, Project: "mina",
	}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	results, err := store.Search(ctx, "backoff", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected stale text to be unindexed, got %+v", results)
	}
}

func TestGetAdjacentChunksReturnsOrderedWindow(t *testing.T) {
	store := openTestStore(t)

	chunks, err := store.GetAdjacentChunks(context.Background(), "webhooks", 1, 1)
	if err != nil {
		t.Fatalf("GetAdjacentChunks() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("expected chunk index %d at position %d, got %d", i, i, c.ChunkIndex)
		}
	}
	if chunks[2].ContentType != domain.ContentTypeCode {
		t.Fatalf("expected content type to round-trip")
	}
}

func TestOpenCreatesDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chunks.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, err := store.GetAdjacentChunks(context.Background(), "missing", 0, 2); err != nil {
		t.Fatalf("GetAdjacentChunks() on empty store error = %v", err)
	}
}
