package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

type pipeChunker struct{}

func (pipeChunker) Split(text string, _ domain.ContentType) []string {
	var out []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type recordingVectorIndex struct {
	batches [][]domain.Chunk
	vectors int
	err     error
}

func (r *recordingVectorIndex) IndexChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, chunks)
	r.vectors += len(vectors)
	return nil
}

type recordingTextIndex struct {
	chunks []domain.Chunk
}

func (r *recordingTextIndex) Upsert(_ context.Context, chunks []domain.Chunk) error {
	r.chunks = append(r.chunks, chunks...)
	return nil
}

func TestIndexChunksDocumentsIntoBothBackends(t *testing.T) {
	vectors := &recordingVectorIndex{}
	text := &recordingTextIndex{}
	uc := NewIndexUseCase(pipeChunker{}, &fakeEmbedder{}, vectors, text, IndexConfig{BatchSize: 2}, nil)

	report, err := uc.Index(context.Background(), []domain.SourceDocument{
		{URL: "https://docs.example.com/zkapps", Title: "zkApps", Content: "one | two | three", Project: "mina"},
		{URL: "", Content: "orphan"},
		{URL: "https://docs.example.com/api", Content: "sig", ContentType: domain.ContentTypeAPIReference, DocumentID: "api-doc"},
	})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if report.Documents != 2 || report.Chunks != 4 || report.Skipped != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(vectors.batches) != 2 || vectors.vectors != 4 {
		t.Fatalf("expected 2 vector batches with 4 vectors, got %d/%d", len(vectors.batches), vectors.vectors)
	}
	if len(text.chunks) != 4 {
		t.Fatalf("expected 4 chunks in text index, got %d", len(text.chunks))
	}

	first := text.chunks[0]
	if first.ContentType != domain.ContentTypeProse || first.ChunkIndex != 0 || first.DocumentID == "" {
		t.Fatalf("unexpected first chunk %+v", first)
	}
	if text.chunks[2].ChunkIndex != 2 || text.chunks[2].DocumentID != first.DocumentID {
		t.Fatalf("expected sequential indexes within a document, got %+v", text.chunks[2])
	}
	if text.chunks[3].ID != "api-doc:0" {
		t.Fatalf("expected caller document id to be kept, got %q", text.chunks[3].ID)
	}
}

func TestIndexDerivesStableDocumentIDFromURL(t *testing.T) {
	text := &recordingTextIndex{}
	uc := NewIndexUseCase(pipeChunker{}, nil, nil, text, IndexConfig{}, nil)
	doc := domain.SourceDocument{URL: "https://docs.example.com/a", Content: "x"}

	for i := 0; i < 2; i++ {
		if _, err := uc.Index(context.Background(), []domain.SourceDocument{doc}); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
	}
	if text.chunks[0].ID != text.chunks[1].ID {
		t.Fatalf("expected stable ids, got %q and %q", text.chunks[0].ID, text.chunks[1].ID)
	}
}

func TestIndexRejectsUnknownContentType(t *testing.T) {
	text := &recordingTextIndex{}
	uc := NewIndexUseCase(pipeChunker{}, nil, nil, text, IndexConfig{}, nil)

	report, err := uc.Index(context.Background(), []domain.SourceDocument{{URL: "https://x", Content: "y", ContentType: "video"}})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if report.Skipped != 1 || len(text.chunks) != 0 {
		t.Fatalf("expected document to be skipped, got %+v", report)
	}
}

func TestIndexRequiresBackend(t *testing.T) {
	uc := NewIndexUseCase(pipeChunker{}, nil, nil, nil, IndexConfig{}, nil)
	_, err := uc.Index(context.Background(), nil)
	if !domain.IsKind(err, domain.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestIndexPropagatesVectorFailure(t *testing.T) {
	vectors := &recordingVectorIndex{err: errors.New("qdrant down")}
	text := &recordingTextIndex{}
	uc := NewIndexUseCase(pipeChunker{}, &fakeEmbedder{}, vectors, text, IndexConfig{}, nil)

	if _, err := uc.Index(context.Background(), []domain.SourceDocument{{URL: "https://x", Content: "y"}}); err == nil {
		t.Fatalf("expected vector index error")
	}
	if len(text.chunks) != 0 {
		t.Fatalf("expected text index untouched after vector failure")
	}
}
