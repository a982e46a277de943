package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const (
	defaultRRFK         = 60
	orphanPenalty       = 0.5
	multiQueryBoostStep = 0.2
	rerankPoolFactor    = 3
)

type HybridSearchConfig struct {
	RRFK         int
	DefaultLimit int
	CallTimeout  time.Duration
	MaxParallel  int
}

// HybridSearcher fuses vector and lexical retrieval with reciprocal rank fusion.
type HybridSearcher struct {
	embedder ports.Embedder
	vectors  ports.VectorSearch
	fulltext ports.FullTextSearch
	cfg      HybridSearchConfig
	logger   *slog.Logger
}

func NewHybridSearcher(
	embedder ports.Embedder,
	vectors ports.VectorSearch,
	fulltext ports.FullTextSearch,
	cfg HybridSearchConfig,
	logger *slog.Logger,
) *HybridSearcher {
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &HybridSearcher{
		embedder: embedder,
		vectors:  vectors,
		fulltext: fulltext,
		cfg:      cfg,
		logger:   componentLogger(logger, "hybrid_search"),
	}
}

// Search runs one fused retrieval. Scores are RRF sums scaled into [0,1] by
// the best score attainable with the engines that answered.
func (s *HybridSearcher) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.ScoredResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	want := s.candidateLimit(opts)

	mode := opts.Mode
	if mode == "" {
		mode = domain.SearchModeHybrid
	}
	useVector := mode != domain.SearchModeFTS && s.vectors != nil && s.embedder != nil
	useFTS := mode != domain.SearchModeVector && s.fulltext != nil
	if !useVector && !useFTS {
		return nil, domain.WrapError(domain.ErrNoBackend, "search", fmt.Errorf("mode %q has no configured engine", mode))
	}

	filter := opts.Filter()
	var (
		vectorHits, ftsHits []domain.ScoredResult
		vectorErr, ftsErr   error
		g                   errgroup.Group
	)
	if useVector {
		g.Go(func() error {
			vectorHits, vectorErr = s.searchVector(ctx, query, want, filter)
			return nil
		})
	}
	if useFTS {
		g.Go(func() error {
			ftsHits, ftsErr = s.searchFullText(ctx, query, want, filter)
			return nil
		})
	}
	_ = g.Wait()

	lists := make([][]domain.ScoredResult, 0, 2)
	if useVector {
		if vectorErr != nil {
			s.logger.Warn("vector_search_failed", "query", query, "error", vectorErr)
		} else {
			lists = append(lists, withMatchType(vectorHits, domain.MatchVector))
		}
	}
	if useFTS {
		if ftsErr != nil {
			s.logger.Warn("fulltext_search_failed", "query", query, "error", ftsErr)
		} else {
			lists = append(lists, withMatchType(ftsHits, domain.MatchFTS))
		}
	}
	if len(lists) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "search", errors.Join(vectorErr, ftsErr))
	}

	fused := fuseRRF(s.cfg.RRFK, lists...)
	scaleScores(fused, bestFusedScore(s.cfg.RRFK, len(lists), false))
	return trimResults(fused, want), nil
}

// MultiQuerySearch runs paraphrased queries in parallel and fuses their rank
// lists, boosting chunks that several formulations agree on.
func (s *HybridSearcher) MultiQuerySearch(ctx context.Context, queries []string, opts domain.SearchOptions) ([]domain.ScoredResult, error) {
	queries = dedupeStrings(queries)
	if len(queries) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "multi query search", errors.New("at least one query is required"))
	}
	if len(queries) == 1 {
		return s.Search(ctx, queries[0], opts)
	}

	perQuery := make([][]domain.ScoredResult, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for i, q := range queries {
		g.Go(func() error {
			perQuery[i], errs[i] = s.Search(ctx, q, opts)
			return nil
		})
	}
	_ = g.Wait()

	lists := make([][]domain.ScoredResult, 0, len(queries))
	for i, err := range errs {
		if err != nil {
			s.logger.Warn("query_variant_failed", "query", queries[i], "error", err)
			continue
		}
		lists = append(lists, perQuery[i])
	}
	if len(lists) == 0 {
		return nil, domain.WrapError(domain.ErrTemporary, "multi query search", errors.Join(errs...))
	}

	fused := fuseMultiQuery(s.cfg.RRFK, lists)
	scaleScores(fused, bestFusedScore(s.cfg.RRFK, len(lists), true))
	return trimResults(fused, s.candidateLimit(opts)), nil
}

func (s *HybridSearcher) candidateLimit(opts domain.SearchOptions) int {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if opts.WithRerank {
		return limit * rerankPoolFactor
	}
	return limit
}

func (s *HybridSearcher) searchVector(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	embedding, err := s.embedder.EmbedQuery(callCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.vectors.Search(callCtx, embedding, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (s *HybridSearcher) searchFullText(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	hits, err := s.fulltext.Search(callCtx, query, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	return hits, nil
}

type fusedCandidate struct {
	result domain.ScoredResult
	score  float64
	hits   int
}

func fuseRRF(k int, lists ...[]domain.ScoredResult) []domain.ScoredResult {
	return fuseRanked(k, lists, false)
}

func fuseMultiQuery(k int, lists [][]domain.ScoredResult) []domain.ScoredResult {
	return fuseRanked(k, lists, true)
}

// fuseRanked sums 1/(k+rank+1) per list. Orphaned chunks contribute half a
// term. Ties keep first-seen order, so output is stable for identical input.
func fuseRanked(k int, lists [][]domain.ScoredResult, boostRepeats bool) []domain.ScoredResult {
	if k <= 0 {
		k = defaultRRFK
	}

	acc := make(map[string]*fusedCandidate)
	order := make([]string, 0)
	for _, list := range lists {
		seenInList := make(map[string]struct{}, len(list))
		for rank, item := range list {
			key := item.Chunk.Key()
			if _, dup := seenInList[key]; dup {
				continue
			}
			seenInList[key] = struct{}{}

			term := 1.0 / float64(k+rank+1)
			if item.Chunk.Orphaned {
				term *= orphanPenalty
			}

			candidate, ok := acc[key]
			if !ok {
				candidate = &fusedCandidate{result: item}
				acc[key] = candidate
				order = append(order, key)
			} else {
				candidate.result = mergeFusedResult(candidate.result, item)
			}
			candidate.score += term
			candidate.hits++
		}
	}

	out := make([]domain.ScoredResult, 0, len(order))
	for _, key := range order {
		c := acc[key]
		score := c.score
		if boostRepeats && c.hits > 1 {
			score *= 1 + multiQueryBoostStep*float64(c.hits-1)
		}
		result := c.result
		result.Score = score
		out = append(out, result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func mergeFusedResult(current, candidate domain.ScoredResult) domain.ScoredResult {
	if current.MatchType != candidate.MatchType {
		current.MatchType = domain.MatchHybrid
	}
	if current.Chunk.Content == "" && candidate.Chunk.Content != "" {
		current.Chunk.Content = candidate.Chunk.Content
	}
	if current.Chunk.Title == "" && candidate.Chunk.Title != "" {
		current.Chunk.Title = candidate.Chunk.Title
	}
	if current.Chunk.Section == "" && candidate.Chunk.Section != "" {
		current.Chunk.Section = candidate.Chunk.Section
	}
	return current
}

func bestFusedScore(k, lists int, boostRepeats bool) float64 {
	if k <= 0 {
		k = defaultRRFK
	}
	best := float64(lists) / float64(k+1)
	if boostRepeats && lists > 1 {
		best *= 1 + multiQueryBoostStep*float64(lists-1)
	}
	return best
}

func scaleScores(results []domain.ScoredResult, best float64) {
	if best <= 0 {
		return
	}
	for i := range results {
		results[i].Score /= best
	}
}

func withMatchType(results []domain.ScoredResult, matchType domain.MatchType) []domain.ScoredResult {
	out := make([]domain.ScoredResult, len(results))
	for i, r := range results {
		r.MatchType = matchType
		out[i] = r
	}
	return out
}

func trimResults(results []domain.ScoredResult, limit int) []domain.ScoredResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With("component", component)
}
