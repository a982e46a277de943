package usecase

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/llmjson"
)

// analyzeWebResults judges every result against the knowledge gaps, one call
// per result, and returns only the relevant ones in input order along with the
// number of calls made.
func (o *EvaluationOrchestrator) analyzeWebResults(
	ctx context.Context,
	question string,
	gaps []string,
	results []domain.WebResult,
) ([]domain.WebFinding, int) {
	findings := make([]domain.WebFinding, len(results))
	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for i, result := range results {
		g.Go(func() error {
			finding, err := o.analyzeWebResult(ctx, question, gaps, result)
			if err != nil {
				o.logger.Warn("web_result_analysis_failed", "url", result.URL, "error", err)
				finding = domain.WebFinding{Result: result, Relevance: 0}
			}
			findings[i] = finding
			return nil
		})
	}
	_ = g.Wait()

	relevant := make([]domain.WebFinding, 0, len(findings))
	for _, f := range findings {
		if f.Relevant() {
			relevant = append(relevant, f)
		}
	}
	return relevant, len(results)
}

func (o *EvaluationOrchestrator) analyzeWebResult(ctx context.Context, question string, gaps []string, result domain.WebResult) (domain.WebFinding, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()

	raw, err := o.llms.analyzer().Synthesize(callCtx, webAnalysisSystemPrompt, buildWebAnalysisPrompt(question, gaps, result), domain.CompletionOptions{
		MaxTokens:   o.limits.AnalyzerMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return domain.WebFinding{}, err
	}
	obj, ok := llmjson.Object(raw)
	if !ok {
		return domain.WebFinding{}, errors.New("analysis response is not a JSON object")
	}
	relevance := llmjson.Int(obj, "relevance", 0)
	relevance = max(0, min(100, relevance))
	return domain.WebFinding{
		Result:    result,
		Relevance: relevance,
		KeyInfo:   llmjson.String(obj, "keyInfo"),
	}, nil
}
