package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

type fakeLLM struct {
	mu      sync.Mutex
	systems []string
	respond func(system, user string) (string, error)
}

func (f *fakeLLM) Synthesize(_ context.Context, system, user string, _ domain.CompletionOptions) (string, error) {
	f.mu.Lock()
	f.systems = append(f.systems, system)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errors.New("no response configured")
	}
	return respond(system, user)
}

func (f *fakeLLM) callsFor(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.systems {
		if s == system {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorSearch struct {
	results []domain.ScoredResult
	err     error
}

func (f *fakeVectorSearch) Search(_ context.Context, _ []float32, limit int, _ domain.SearchFilter) ([]domain.ScoredResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return trimResults(f.results, limit), nil
}

type fakeFullText struct {
	mu         sync.Mutex
	results    []domain.ScoredResult
	err        error
	documents  map[string][]domain.Chunk
	adjErr     error
	limits     []int
	adjacentOf []string
}

func (f *fakeFullText) Search(_ context.Context, _ string, limit int, _ domain.SearchFilter) ([]domain.ScoredResult, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return trimResults(f.results, limit), nil
}

func (f *fakeFullText) GetAdjacentChunks(_ context.Context, documentID string, centerIndex, window int) ([]domain.Chunk, error) {
	f.mu.Lock()
	f.adjacentOf = append(f.adjacentOf, documentID)
	f.mu.Unlock()
	if f.adjErr != nil {
		return nil, f.adjErr
	}
	out := make([]domain.Chunk, 0)
	for _, c := range f.documents[documentID] {
		if c.ChunkIndex >= centerIndex-window && c.ChunkIndex <= centerIndex+window {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeDocSearcher struct {
	mu      sync.Mutex
	queries [][]string
	next    func(call int, queries []string) ([]domain.ScoredResult, error)
}

func (f *fakeDocSearcher) MultiQuerySearch(_ context.Context, queries []string, _ domain.SearchOptions) ([]domain.ScoredResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, queries)
	call := len(f.queries)
	f.mu.Unlock()
	if f.next == nil {
		return nil, nil
	}
	return f.next(call, queries)
}

type fakeWebSearch struct {
	mu      sync.Mutex
	queries []string
	results []domain.WebResult
	err     error
}

func (f *fakeWebSearch) Search(_ context.Context, query string, _ domain.WebSearchOptions) (domain.WebSearchResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return domain.WebSearchResponse{}, f.err
	}
	return domain.WebSearchResponse{Results: f.results}, nil
}

func scored(id, docID string, index int, score float64) domain.ScoredResult {
	return domain.ScoredResult{
		Chunk: domain.Chunk{
			ID:          id,
			URL:         fmt.Sprintf("https://docs.example.com/%s", docID),
			Title:       "Doc " + docID,
			Content:     "content of " + id,
			ContentType: domain.ContentTypeProse,
			DocumentID:  docID,
			ChunkIndex:  index,
		},
		Score: score,
	}
}

func keys(results []domain.ScoredResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Key()
	}
	return out
}
