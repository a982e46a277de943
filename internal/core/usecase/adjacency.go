package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const (
	defaultMaxExpandedChunks = 50
	neighborDecay            = 0.5
)

type AdjacencyConfig struct {
	MaxChunks   int
	Windows     map[domain.ContentType]int
	CallTimeout time.Duration
	MaxParallel int
}

// AdjacencyExpander adds neighboring chunks from the same source document so
// matched passages read as contiguous context.
type AdjacencyExpander struct {
	chunks ports.FullTextSearch
	cfg    AdjacencyConfig
	logger *slog.Logger
}

func NewAdjacencyExpander(chunks ports.FullTextSearch, cfg AdjacencyConfig, logger *slog.Logger) *AdjacencyExpander {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = defaultMaxExpandedChunks
	}
	if cfg.Windows == nil {
		cfg.Windows = defaultAdjacencyWindows
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &AdjacencyExpander{
		chunks: chunks,
		cfg:    cfg,
		logger: componentLogger(logger, "adjacency"),
	}
}

type documentGroup struct {
	documentID string
	matches    []domain.ScoredResult
	best       float64
	lo, hi     int
	expand     bool
	neighbors  []domain.ScoredResult
}

// Expand never fails: a document whose neighbors cannot be fetched keeps only
// its matched chunks. overrides replace the default window per content type.
func (e *AdjacencyExpander) Expand(ctx context.Context, results []domain.ScoredResult, overrides map[domain.ContentType]int) []domain.ScoredResult {
	if len(results) == 0 {
		return results
	}
	windows := e.windows(overrides)
	groups := groupByDocument(results, windows)

	if e.chunks != nil {
		var g errgroup.Group
		g.SetLimit(e.cfg.MaxParallel)
		for _, group := range groups {
			if !group.expand {
				continue
			}
			g.Go(func() error {
				neighbors, err := e.fetchNeighbors(ctx, group)
				if err != nil {
					e.logger.Warn("adjacent_fetch_failed", "document_id", group.documentID, "error", err)
					return nil
				}
				group.neighbors = neighbors
				return nil
			})
		}
		_ = g.Wait()
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].best > groups[j].best
	})

	out := make([]domain.ScoredResult, 0, len(results))
	for _, group := range groups {
		chunks := append(append([]domain.ScoredResult{}, group.matches...), group.neighbors...)
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].Chunk.ChunkIndex < chunks[j].Chunk.ChunkIndex
		})
		out = append(out, chunks...)
		if len(out) >= e.cfg.MaxChunks {
			return out[:e.cfg.MaxChunks]
		}
	}
	return out
}

func (e *AdjacencyExpander) windows(overrides map[domain.ContentType]int) map[domain.ContentType]int {
	merged := make(map[domain.ContentType]int, len(e.cfg.Windows))
	for k, v := range e.cfg.Windows {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func groupByDocument(results []domain.ScoredResult, windows map[domain.ContentType]int) []*documentGroup {
	byDoc := make(map[string]*documentGroup)
	groups := make([]*documentGroup, 0)
	for _, r := range results {
		docID := r.Chunk.DocumentID
		key := docID
		if key == "" {
			key = "chunk:" + r.Chunk.Key()
		}
		group, ok := byDoc[key]
		if !ok {
			group = &documentGroup{documentID: docID, best: r.Score, lo: math.MaxInt, hi: math.MinInt}
			byDoc[key] = group
			groups = append(groups, group)
		}
		group.matches = append(group.matches, r)
		if r.Score > group.best {
			group.best = r.Score
		}

		window := windows[r.Chunk.ContentType]
		if docID == "" || window <= 0 {
			continue
		}
		group.expand = true
		group.lo = min(group.lo, max(0, r.Chunk.ChunkIndex-window))
		group.hi = max(group.hi, r.Chunk.ChunkIndex+window)
	}
	return groups
}

func (e *AdjacencyExpander) fetchNeighbors(ctx context.Context, group *documentGroup) ([]domain.ScoredResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	center := group.lo + (group.hi-group.lo)/2
	window := group.hi - center
	chunks, err := e.chunks.GetAdjacentChunks(callCtx, group.documentID, center, window)
	if err != nil {
		return nil, err
	}

	matched := make(map[string]struct{}, len(group.matches))
	matchedIndex := make(map[int]struct{}, len(group.matches))
	for _, m := range group.matches {
		matched[m.Chunk.Key()] = struct{}{}
		matchedIndex[m.Chunk.ChunkIndex] = struct{}{}
	}

	out := make([]domain.ScoredResult, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.ChunkIndex < group.lo || chunk.ChunkIndex > group.hi {
			continue
		}
		if _, ok := matched[chunk.Key()]; ok {
			continue
		}
		if _, ok := matchedIndex[chunk.ChunkIndex]; ok {
			continue
		}
		matched[chunk.Key()] = struct{}{}
		matchedIndex[chunk.ChunkIndex] = struct{}{}

		nearest, distance := nearestMatch(group.matches, chunk.ChunkIndex)
		out = append(out, domain.ScoredResult{
			Chunk:     chunk,
			Score:     neighborScore(nearest.Score, distance),
			MatchType: nearest.MatchType,
			Neighbor:  true,
		})
	}
	return out, nil
}

// nearestMatch prefers the higher-scoring match when two are equally close.
func nearestMatch(matches []domain.ScoredResult, index int) (domain.ScoredResult, int) {
	best := matches[0]
	bestDist := absInt(best.Chunk.ChunkIndex - index)
	for _, m := range matches[1:] {
		d := absInt(m.Chunk.ChunkIndex - index)
		if d < bestDist || (d == bestDist && m.Score > best.Score) {
			best = m
			bestDist = d
		}
	}
	return best, bestDist
}

func neighborScore(matchScore float64, distance int) float64 {
	return matchScore * neighborDecay / float64(max(1, distance))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
