package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/llmjson"
)

const maxRelatedQueries = 5

// generateRelatedQueries returns nothing rather than failing; callers count the call either way.
func (o *EvaluationOrchestrator) generateRelatedQueries(ctx context.Context, question, answer string) []string {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()

	raw, err := o.llms.analyzer().Synthesize(callCtx, relatedQueriesSystemPrompt, buildRelatedQueriesPrompt(question, answer), domain.CompletionOptions{
		MaxTokens:   o.limits.AnalyzerMaxTokens,
		Temperature: 0.4,
	})
	if err != nil {
		o.logger.Warn("related_queries_failed", "error", err)
		return nil
	}
	queries, ok := llmjson.StringArray(raw, maxRelatedQueries+1)
	if !ok {
		o.logger.Debug("related_queries_unparsed", "response", truncateRunes(raw, 200))
		return nil
	}
	out := make([]string, 0, maxRelatedQueries)
	for _, q := range queries {
		if strings.EqualFold(q, strings.TrimSpace(question)) {
			continue
		}
		out = append(out, q)
		if len(out) == maxRelatedQueries {
			break
		}
	}
	return out
}
