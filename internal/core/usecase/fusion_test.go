package usecase

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

// newTestSearcher keeps absent engines as untyped nils.
func newTestSearcher(vectors *fakeVectorSearch, fulltext *fakeFullText) *HybridSearcher {
	var (
		embedder ports.Embedder
		vs       ports.VectorSearch
		fts      ports.FullTextSearch
	)
	if vectors != nil {
		embedder, vs = &fakeEmbedder{}, vectors
	}
	if fulltext != nil {
		fts = fulltext
	}
	return NewHybridSearcher(embedder, vs, fts, HybridSearchConfig{}, nil)
}

func TestHybridSearchFusesBothEngines(t *testing.T) {
	vectors := &fakeVectorSearch{results: []domain.ScoredResult{
		scored("a", "d1", 0, 0.9), scored("b", "d2", 0, 0.8), scored("c", "d3", 0, 0.7),
	}}
	fulltext := &fakeFullText{results: []domain.ScoredResult{
		scored("c", "d3", 0, 12), scored("a", "d1", 0, 10), scored("d", "d4", 0, 3),
	}}
	searcher := newTestSearcher(vectors, fulltext)

	got, err := searcher.Search(context.Background(), "webhook retries", domain.SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []string{"a", "c", "b", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), keys(got))
	}
	for i := range want {
		if got[i].Chunk.ID != want[i] {
			t.Fatalf("unexpected order %v, want %v", keys(got), want)
		}
	}
	if got[0].MatchType != domain.MatchHybrid || got[2].MatchType != domain.MatchVector || got[3].MatchType != domain.MatchFTS {
		t.Fatalf("unexpected match types: %s %s %s", got[0].MatchType, got[2].MatchType, got[3].MatchType)
	}
	wantTop := (1.0/61 + 1.0/62) / (2.0 / 61)
	if math.Abs(got[0].Score-wantTop) > 1e-9 {
		t.Fatalf("top score = %f, want %f", got[0].Score, wantTop)
	}
	for _, r := range got {
		if r.Score <= 0 || r.Score > 1 {
			t.Fatalf("score out of range: %f", r.Score)
		}
	}
}

func TestFuseRRFIsDeterministic(t *testing.T) {
	vector := []domain.ScoredResult{scored("a", "d1", 0, 0), scored("b", "d1", 1, 0), scored("c", "d2", 0, 0)}
	fts := []domain.ScoredResult{scored("b", "d1", 1, 0), scored("a", "d1", 0, 0), scored("e", "d3", 0, 0)}

	first := keys(fuseRRF(60, vector, fts))
	for i := 0; i < 20; i++ {
		again := keys(fuseRRF(60, vector, fts))
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("fusion order changed between runs: %v vs %v", first, again)
			}
		}
	}
	// a and b tie exactly; first-seen order wins.
	if first[0] != "a" || first[1] != "b" {
		t.Fatalf("expected tie broken by first appearance, got %v", first)
	}
}

func TestFuseRRFPenalizesOrphans(t *testing.T) {
	orphan := scored("orphan", "d1", 0, 0)
	orphan.Chunk.Orphaned = true
	regular := scored("regular", "d2", 0, 0)

	fused := fuseRRF(60,
		[]domain.ScoredResult{orphan, regular},
		[]domain.ScoredResult{regular, orphan},
	)
	if fused[0].Chunk.ID != "regular" {
		t.Fatalf("expected non-orphaned chunk first, got %v", keys(fused))
	}
	if fused[1].Score >= fused[0].Score {
		t.Fatalf("orphan score %f should be below %f", fused[1].Score, fused[0].Score)
	}
	if want := 0.5 * (1.0/61 + 1.0/62); math.Abs(fused[1].Score-want) > 1e-12 {
		t.Fatalf("orphan score = %f, want %f", fused[1].Score, want)
	}
}

func TestFuseMultiQueryBoostsRepeatedChunks(t *testing.T) {
	fused := fuseMultiQuery(60, [][]domain.ScoredResult{
		{scored("a", "d1", 0, 0), scored("b", "d2", 0, 0)},
		{scored("a", "d1", 0, 0), scored("c", "d3", 0, 0)},
	})
	if got := keys(fused); got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected order %v", got)
	}
	if want := 2.0 / 61 * 1.2; math.Abs(fused[0].Score-want) > 1e-12 {
		t.Fatalf("boosted score = %f, want %f", fused[0].Score, want)
	}
}

func TestHybridSearchDegradesToSingleEngine(t *testing.T) {
	vectors := &fakeVectorSearch{err: errors.New("qdrant down")}
	fulltext := &fakeFullText{results: []domain.ScoredResult{scored("a", "d1", 0, 1)}}

	got, err := newTestSearcher(vectors, fulltext).Search(context.Background(), "anything", domain.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("expected lexical-only results, got error %v", err)
	}
	if len(got) != 1 || got[0].MatchType != domain.MatchFTS {
		t.Fatalf("unexpected results %+v", got)
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Fatalf("single-engine top score should normalize to 1, got %f", got[0].Score)
	}
}

func TestHybridSearchFailsWhenAllEnginesFail(t *testing.T) {
	vectors := &fakeVectorSearch{err: errors.New("qdrant down")}
	fulltext := &fakeFullText{err: errors.New("postgres down")}

	_, err := newTestSearcher(vectors, fulltext).Search(context.Background(), "anything", domain.SearchOptions{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestHybridSearchValidation(t *testing.T) {
	searcher := newTestSearcher(nil, nil)
	if _, err := searcher.Search(context.Background(), "  ", domain.SearchOptions{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty query, got %v", err)
	}
	if _, err := searcher.Search(context.Background(), "query", domain.SearchOptions{}); !domain.IsKind(err, domain.ErrNoBackend) {
		t.Fatalf("expected no backend error, got %v", err)
	}
	fts := &fakeFullText{}
	if _, err := newTestSearcher(nil, fts).Search(context.Background(), "query", domain.SearchOptions{Mode: domain.SearchModeVector}); !domain.IsKind(err, domain.ErrNoBackend) {
		t.Fatalf("expected no backend error for vector mode without vectors, got %v", err)
	}
}

func TestHybridSearchWidensPoolForRerank(t *testing.T) {
	fulltext := &fakeFullText{}
	_, err := newTestSearcher(nil, fulltext).Search(context.Background(), "query", domain.SearchOptions{Limit: 4, WithRerank: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(fulltext.limits) != 1 || fulltext.limits[0] != 12 {
		t.Fatalf("expected candidate pool of 12, got %v", fulltext.limits)
	}
}

func TestMultiQuerySearchRewardsAgreement(t *testing.T) {
	fulltext := &fakeFullText{results: []domain.ScoredResult{scored("a", "d1", 0, 1), scored("b", "d2", 0, 1)}}
	searcher := newTestSearcher(nil, fulltext)

	got, err := searcher.MultiQuerySearch(context.Background(), []string{"first", "second", "  "}, domain.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("MultiQuerySearch() error = %v", err)
	}
	if len(got) != 2 || got[0].Chunk.ID != "a" {
		t.Fatalf("unexpected results %v", keys(got))
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Fatalf("chunk found by every variant should score 1, got %f", got[0].Score)
	}
}
