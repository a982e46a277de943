package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/llmjson"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const rerankPreviewChars = 400

type RerankConfig struct {
	MaxTokens   int
	CallTimeout time.Duration
}

// Reranker reorders candidates with a relevance-judgment call. Every failure
// mode falls back to the incoming order cut to topK.
type Reranker struct {
	llm    ports.LLMClient
	cfg    RerankConfig
	logger *slog.Logger
}

func NewReranker(llm ports.LLMClient, cfg RerankConfig, logger *slog.Logger) *Reranker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	return &Reranker{
		llm:    llm,
		cfg:    cfg,
		logger: componentLogger(logger, "reranker"),
	}
}

func (r *Reranker) Rerank(ctx context.Context, query string, results []domain.ScoredResult, topK int) []domain.ScoredResult {
	if topK <= 0 || len(results) <= topK {
		return results
	}
	fallback := results[:topK]
	if r == nil || r.llm == nil {
		return fallback
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	raw, err := r.llm.Synthesize(callCtx, rerankSystemPrompt, buildRerankPrompt(query, results, topK), domain.CompletionOptions{
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		r.logger.Warn("rerank_call_failed", "error", err, "candidates", len(results))
		return fallback
	}

	indices, ok := llmjson.IntArray(raw)
	if !ok || len(indices) == 0 {
		r.logger.Warn("rerank_unusable_response", "parsed", ok, "response", truncateRunes(raw, 200))
		return fallback
	}
	return applyRerankOrder(results, indices, topK)
}

// applyRerankOrder keeps valid unique indices in model order, pads with the
// remaining candidates in their original order, then hands the top scores back
// out in descending order so later score sorts keep the reranked order.
func applyRerankOrder(results []domain.ScoredResult, indices []int, topK int) []domain.ScoredResult {
	chosen := make([]int, 0, topK)
	used := make(map[int]struct{}, topK)
	for _, idx := range indices {
		if len(chosen) == topK {
			break
		}
		if idx < 0 || idx >= len(results) {
			continue
		}
		if _, dup := used[idx]; dup {
			continue
		}
		used[idx] = struct{}{}
		chosen = append(chosen, idx)
	}
	for idx := 0; idx < len(results) && len(chosen) < topK; idx++ {
		if _, dup := used[idx]; dup {
			continue
		}
		used[idx] = struct{}{}
		chosen = append(chosen, idx)
	}

	scores := make([]float64, len(results))
	for i, res := range results {
		scores[i] = res.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	out := make([]domain.ScoredResult, 0, len(chosen))
	for i, idx := range chosen {
		item := results[idx]
		item.Score = scores[i]
		out = append(out, item)
	}
	return out
}

func buildRerankPrompt(query string, results []domain.ScoredResult, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCandidates:\n", query)
	for i, r := range results {
		c := r.Chunk
		fmt.Fprintf(&b, "[%d] %s", i, c.Title)
		if c.Section != "" {
			fmt.Fprintf(&b, " > %s", c.Section)
		}
		fmt.Fprintf(&b, " (%s)", c.ContentType)
		switch c.ContentType {
		case domain.ContentTypeCode, domain.ContentTypeAPIReference:
			fmt.Fprintf(&b, " url=%s", c.URL)
		}
		b.WriteString("\n")
		b.WriteString(truncateRunes(strings.TrimSpace(c.Content), rerankPreviewChars))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Return a JSON array with the indices of the %d most relevant candidates, most relevant first.", topK)
	return b.String()
}
