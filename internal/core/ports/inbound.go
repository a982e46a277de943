package ports

import (
	"context"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

// AnswerService is the inbound contract for question answering.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error)
}

// SearchService is the inbound contract for raw fused retrieval.
type SearchService interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.ScoredResult, error)
}
