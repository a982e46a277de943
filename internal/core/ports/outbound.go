package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearch performs semantic similarity search over indexed chunks.
type VectorSearch interface {
	Search(ctx context.Context, embedding []float32, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error)
}

// FullTextSearch performs lexical search and reads chunk neighborhoods.
type FullTextSearch interface {
	Search(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error)
	GetAdjacentChunks(ctx context.Context, documentID string, centerIndex, window int) ([]domain.Chunk, error)
}

// LLMClient is a single completion backend. Different roles may hold different instances.
type LLMClient interface {
	Synthesize(ctx context.Context, systemPrompt, userPrompt string, opts domain.CompletionOptions) (string, error)
}

// WebSearchClient queries the public web.
type WebSearchClient interface {
	Search(ctx context.Context, query string, opts domain.WebSearchOptions) (domain.WebSearchResponse, error)
}

// AnswerMetrics observes completed answers. Implementations must be safe for concurrent use.
type AnswerMetrics interface {
	ObserveAnswer(result *domain.AnswerResult, elapsed time.Duration)
}

// Chunker splits document text into ordered chunk bodies.
type Chunker interface {
	Split(text string, contentType domain.ContentType) []string
}

// VectorIndex stores chunk embeddings.
type VectorIndex interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}

// TextIndex stores chunks for lexical search and adjacency reads.
type TextIndex interface {
	Upsert(ctx context.Context, chunks []domain.Chunk) error
}
