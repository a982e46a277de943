package usecase

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

const (
	defaultCorrectiveRetries = 3
	defaultMinResults        = 3

	lowMeanScore       = 0.35
	mediumMeanScore    = 0.55
	lowCoverage        = 0.3
	mediumCoverage     = 0.6
	coverageSampleSize = 3
)

type searchFunc func(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.ScoredResult, error)

type CorrectiveConfig struct {
	MaxRetries          int
	MinResultsThreshold int
}

// CorrectiveRetriever re-runs retrieval with reformulated queries when the
// first fused result set looks weak.
type CorrectiveRetriever struct {
	search searchFunc
	cfg    CorrectiveConfig
	logger *slog.Logger
}

func NewCorrectiveRetriever(search searchFunc, cfg CorrectiveConfig, logger *slog.Logger) *CorrectiveRetriever {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultCorrectiveRetries
	}
	if cfg.MinResultsThreshold <= 0 {
		cfg.MinResultsThreshold = defaultMinResults
	}
	return &CorrectiveRetriever{
		search: search,
		cfg:    cfg,
		logger: componentLogger(logger, "corrective"),
	}
}

// Search returns an error only when the initial retrieval fails outright.
// Failing alternative queries are skipped.
func (c *CorrectiveRetriever) Search(
	ctx context.Context,
	query string,
	analysis domain.QueryAnalysis,
	opts domain.SearchOptions,
) (domain.CorrectiveResult, error) {
	initial, err := c.search(ctx, query, opts)
	if err != nil {
		return domain.CorrectiveResult{}, err
	}

	quality := c.grade(query, analysis, initial)
	result := domain.CorrectiveResult{
		Results:        initial,
		Quality:        quality,
		InitialQuality: quality,
	}
	if c.acceptable(quality, len(initial), 1) {
		return result, nil
	}

	alternatives := GenerateAlternativeQueries(query, analysis, c.cfg.MaxRetries)
	result.AlternativeQueries = alternatives
	merged := initial
	maxKeep := max(len(initial), opts.Limit*rerankPoolFactor)

	for _, alt := range alternatives {
		if err := ctx.Err(); err != nil {
			break
		}
		result.RetriesUsed++
		more, err := c.search(ctx, alt, opts)
		if err != nil {
			c.logger.Warn("corrective_alternative_failed", "query", alt, "error", err)
			continue
		}
		merged = trimResults(mergeByChunkID(merged, more), maxKeep)
		quality = c.grade(query, analysis, merged)
		c.logger.Debug("corrective_retry",
			"query", alt,
			"quality", quality,
			"results", len(merged),
		)
		if c.acceptable(quality, len(merged), 2) {
			break
		}
	}

	result.Results = merged
	result.Quality = quality
	result.WasRetried = result.RetriesUsed > 0
	return result, nil
}

func (c *CorrectiveRetriever) acceptable(q domain.RetrievalQuality, count, factor int) bool {
	switch q {
	case domain.QualityHigh:
		return true
	case domain.QualityMedium:
		return count >= factor*c.cfg.MinResultsThreshold
	default:
		return false
	}
}

// grade scores results against the user's own wording and extracted keywords,
// not the expanded search string, so injected expansion terms never count as
// misses.
func (c *CorrectiveRetriever) grade(query string, analysis domain.QueryAnalysis, results []domain.ScoredResult) domain.RetrievalQuality {
	if original := strings.TrimSpace(analysis.OriginalQuery); original != "" {
		query = original
	}
	return evaluateQuality(query, analysis.Keywords, results)
}

// EvaluateQuality grades a fused result set from its size, mean score and how
// many significant query words the top results mention.
func EvaluateQuality(query string, results []domain.ScoredResult) domain.RetrievalQuality {
	return evaluateQuality(query, nil, results)
}

func evaluateQuality(query string, keywords []string, results []domain.ScoredResult) domain.RetrievalQuality {
	if len(results) < defaultMinResults {
		return domain.QualityLow
	}
	mean := meanScore(results)
	coverage := topCoverage(query, keywords, results, coverageSampleSize)
	switch {
	case mean < lowMeanScore || coverage < lowCoverage:
		return domain.QualityLow
	case mean < mediumMeanScore || coverage < mediumCoverage:
		return domain.QualityMedium
	default:
		return domain.QualityHigh
	}
}

func meanScore(results []domain.ScoredResult) float64 {
	if len(results) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range results {
		total += r.Score
	}
	return total / float64(len(results))
}

// topCoverage weighs keyword coverage 0.6 and word coverage 0.4 when the
// classifier found keywords, matching the confidence scorer.
func topCoverage(query string, keywords []string, results []domain.ScoredResult, n int) float64 {
	terms := significantWords(query)
	if len(terms) == 0 && len(keywords) == 0 {
		return 1
	}
	text := resultsText(trimResults(results, n))
	switch {
	case len(keywords) == 0:
		return termCoverage(terms, text)
	case len(terms) == 0:
		return termCoverage(keywords, text)
	default:
		return 0.6*termCoverage(keywords, text) + 0.4*termCoverage(terms, text)
	}
}

func resultsText(results []domain.ScoredResult) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(strings.ToLower(r.Chunk.Title))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(r.Chunk.Section))
		b.WriteByte(' ')
		b.WriteString(strings.ToLower(r.Chunk.Content))
		b.WriteByte('\n')
	}
	return b.String()
}

// mergeByChunkID keeps the higher-scoring instance of every chunk and re-sorts by score.
func mergeByChunkID(current, more []domain.ScoredResult) []domain.ScoredResult {
	index := make(map[string]int, len(current)+len(more))
	out := make([]domain.ScoredResult, 0, len(current)+len(more))
	for _, list := range [][]domain.ScoredResult{current, more} {
		for _, r := range list {
			key := r.Chunk.Key()
			if i, ok := index[key]; ok {
				if r.Score > out[i].Score {
					out[i] = r
				}
				continue
			}
			index[key] = len(out)
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

var alternativeSuffixes = map[domain.QueryType][]string{
	domain.QueryTypeHowTo: {"tutorial", "example", "guide"},
	domain.QueryTypeError: {"fix", "solution", "troubleshoot"},
}

// GenerateAlternativeQueries builds reformulations in priority order. The
// keyword-only query is always kept as the last resort when budget allows.
func GenerateAlternativeQueries(query string, analysis domain.QueryAnalysis, limit int) []string {
	if limit <= 0 {
		return nil
	}
	query = strings.TrimSpace(query)
	candidates := make([]string, 0, 6)

	words := strings.Fields(query)
	if len(words) > 1 {
		candidates = append(candidates, strings.Join(words[:(len(words)+1)/2], " "))
	}
	for _, suffix := range alternativeSuffixes[analysis.Type] {
		if strings.Contains(strings.ToLower(query), suffix) {
			continue
		}
		candidates = append(candidates, query+" "+suffix)
	}

	keywordQuery := strings.Join(analysis.Keywords, " ")
	if keywordQuery == "" {
		keywordQuery = strings.Join(significantWords(query), " ")
	}

	out := make([]string, 0, limit)
	seen := map[string]struct{}{strings.ToLower(query): {}}
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		if _, dup := seen[strings.ToLower(q)]; dup {
			return
		}
		seen[strings.ToLower(q)] = struct{}{}
		out = append(out, q)
	}

	keywordNovel := keywordQuery != "" && !strings.EqualFold(keywordQuery, query)
	reserve := 0
	if keywordNovel {
		reserve = 1
	}
	for _, c := range candidates {
		if len(out) >= limit-reserve {
			break
		}
		add(c)
	}
	add(keywordQuery)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
