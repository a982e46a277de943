package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

// scriptedLLM answers by role. Evaluator responses are consumed in order and
// the last one repeats.
func scriptedLLM(evaluations ...string) *fakeLLM {
	var (
		mu   sync.Mutex
		next int
	)
	return &fakeLLM{respond: func(system, _ string) (string, error) {
		switch system {
		case evaluatorSystemPrompt:
			mu.Lock()
			defer mu.Unlock()
			if len(evaluations) == 0 {
				return "", errors.New("no evaluation scripted")
			}
			out := evaluations[min(next, len(evaluations)-1)]
			next++
			return out, nil
		case relatedQueriesSystemPrompt:
			return `["webhook retry limits", "webhook signing"]`, nil
		case refinerSystemPrompt:
			return "refined answer", nil
		case webAnalysisSystemPrompt:
			return `{"relevance": 80, "keyInfo": "retries stop after 5 attempts"}`, nil
		case webSynthesisSystemPrompt:
			return "answer from the web", nil
		default:
			return "", fmt.Errorf("unexpected system prompt %q", system)
		}
	}}
}

func testLimits() domain.EvaluationLimits {
	limits := domain.DefaultEvaluationLimits()
	// Only a perfect score ends the loop early, so scripted actions drive every test.
	limits.AutoReturnConfidence = 100
	return limits
}

func newTestOrchestrator(llm *fakeLLM, docs *fakeDocSearcher, web *fakeWebSearch, limits domain.EvaluationLimits) *EvaluationOrchestrator {
	var webClient ports.WebSearchClient
	if web != nil {
		webClient = web
	}
	var searcher docSearcher
	if docs != nil {
		searcher = docs
	}
	return NewEvaluationOrchestrator(searcher, webClient, LLMRoles{Primary: llm}, nil, OrchestratorConfig{
		Limits:           limits,
		WebSearchEnabled: web != nil,
	}, nil)
}

func evaluationInput(results []domain.ScoredResult, confidence int) EvaluationInput {
	return EvaluationInput{
		Query:      "how do webhook retries work",
		Analysis:   domain.QueryAnalysis{Type: domain.QueryTypeHowTo},
		Answer:     "initial answer",
		Confidence: domain.ConfidenceResult{Score: confidence},
		Results:    results,
		LLMCalls:   1,
	}
}

func TestRunQuickReturnsConfidentAnswers(t *testing.T) {
	llm := scriptedLLM()
	limits := domain.DefaultEvaluationLimits()
	out := newTestOrchestrator(llm, &fakeDocSearcher{}, nil, limits).Run(context.Background(), evaluationInput(goodResults(3), 92))

	if out.Trace.FinalState != domain.StateQuickReturn {
		t.Fatalf("expected quick return, got %s", out.Trace.FinalState)
	}
	if len(out.Trace.Steps) != 0 {
		t.Fatalf("expected no steps, got %d", len(out.Trace.Steps))
	}
	if out.Trace.ResourcesUsed.LLMCalls != 2 {
		t.Fatalf("expected 2 llm calls, got %d", out.Trace.ResourcesUsed.LLMCalls)
	}
	if out.Answer != "initial answer" || len(out.RelatedQueries) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if llm.callsFor(evaluatorSystemPrompt) != 0 {
		t.Fatalf("evaluator must not run on quick return")
	}
}

func TestRunTerminatesWhenEvaluatorAlwaysWantsMoreDocs(t *testing.T) {
	var (
		mu    sync.Mutex
		round int
	)
	llm := scriptedLLM()
	base := llm.respond
	llm.respond = func(system, user string) (string, error) {
		if system != evaluatorSystemPrompt {
			return base(system, user)
		}
		mu.Lock()
		round++
		n := round
		mu.Unlock()
		return fmt.Sprintf(`{"action":{"type":"QUERY_MORE_DOCS","queries":["q%d-a","q%d-b","q%d-c"],"reason":"need more"}}`, n, n, n), nil
	}
	docs := &fakeDocSearcher{next: func(call int, _ []string) ([]domain.ScoredResult, error) {
		return []domain.ScoredResult{scored(fmt.Sprintf("extra-%d", call), fmt.Sprintf("extra-%d", call), 0, 0.2)}, nil
	}}
	limits := testLimits()
	limits.MaxIterations = 5

	out := newTestOrchestrator(llm, docs, nil, limits).Run(context.Background(), evaluationInput(goodResults(2), 20))

	if got := len(out.Trace.Steps); got > limits.MaxIterations {
		t.Fatalf("expected at most %d steps, got %d", limits.MaxIterations, got)
	}
	if out.Trace.ResourcesUsed.DocQueries != limits.MaxDocQueries {
		t.Fatalf("expected doc queries to stop at %d, got %d", limits.MaxDocQueries, out.Trace.ResourcesUsed.DocQueries)
	}
	for _, queries := range docs.queries {
		if len(queries) > limits.MaxQueriesPerAction {
			t.Fatalf("action issued %d queries", len(queries))
		}
	}
	if out.Trace.FinalState != domain.StateFinalSynthesis {
		t.Fatalf("expected final synthesis, got %s", out.Trace.FinalState)
	}
	last := out.Trace.Steps[len(out.Trace.Steps)-1]
	if last.Phase != domain.PhaseFinalSynthesis || last.Reason != "max iterations reached" {
		t.Fatalf("unexpected final step %+v", last)
	}
	if out.Answer != "refined answer" {
		t.Fatalf("expected gathered docs folded into the answer, got %q", out.Answer)
	}
	if !containsSubstring(out.Warnings, "budget exhausted") {
		t.Fatalf("expected budget warning, got %v", out.Warnings)
	}
}

func TestRunInvalidEvaluationReturnsCurrentAnswer(t *testing.T) {
	llm := scriptedLLM("The answer looks fine to me!")
	out := newTestOrchestrator(llm, &fakeDocSearcher{}, nil, testLimits()).Run(context.Background(), evaluationInput(goodResults(3), 40))

	if out.Trace.FinalState != domain.StateReturned || len(out.Trace.Steps) != 1 {
		t.Fatalf("expected a single returning step, got %s with %d steps", out.Trace.FinalState, len(out.Trace.Steps))
	}
	step := out.Trace.Steps[0]
	if step.Action != domain.ActionReturnAnswer || !containsSubstring(step.Gaps, gapParseFailure) {
		t.Fatalf("unexpected step %+v", step)
	}
	if out.Answer != "initial answer" {
		t.Fatalf("answer must be unchanged, got %q", out.Answer)
	}
	if out.Trace.ResourcesUsed.LLMCalls != 3 {
		t.Fatalf("expected initial + evaluator + related calls, got %d", out.Trace.ResourcesUsed.LLMCalls)
	}
}

func TestRunTruncatedEvaluationDoesNotActOnInnerObject(t *testing.T) {
	truncated := `{"action":{"type":"QUERY_MORE_DOCS","queries":["webhook backoff"],"reason":"need more"},"context":{"establishedFacts":["retries exist"],"summary":"partial`
	docs := &fakeDocSearcher{}
	out := newTestOrchestrator(scriptedLLM(truncated), docs, nil, testLimits()).Run(context.Background(), evaluationInput(goodResults(3), 40))

	if out.Trace.FinalState != domain.StateReturned || len(out.Trace.Steps) != 1 {
		t.Fatalf("expected a single returning step, got %s with %d steps", out.Trace.FinalState, len(out.Trace.Steps))
	}
	step := out.Trace.Steps[0]
	if step.Action != domain.ActionReturnAnswer || !containsSubstring(step.Gaps, gapParseFailure) {
		t.Fatalf("unexpected step %+v", step)
	}
	if len(docs.queries) != 0 || out.Trace.ResourcesUsed.DocQueries != 0 {
		t.Fatalf("truncated decision must not run doc queries, got %v", docs.queries)
	}
	if out.Answer != "initial answer" {
		t.Fatalf("answer must be unchanged, got %q", out.Answer)
	}
}

func TestRunCapsQueriesPerActionAtTwo(t *testing.T) {
	llm := scriptedLLM(
		`{"action":{"type":"QUERY_MORE_DOCS","queries":["a","b","c","d"],"reason":"wide"}}`,
		`{"action":{"type":"RETURN_ANSWER","reason":"done"}}`,
	)
	docs := &fakeDocSearcher{}
	limits := testLimits()
	limits.MaxQueriesPerAction = 4
	limits.MaxDocQueries = 10

	out := newTestOrchestrator(llm, docs, nil, limits).Run(context.Background(), evaluationInput(goodResults(3), 40))

	if len(docs.queries) != 1 {
		t.Fatalf("expected one doc action, got %v", docs.queries)
	}
	if got := docs.queries[0]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected the first two queries only, got %v", got)
	}
	if out.Trace.ResourcesUsed.DocQueries != 2 {
		t.Fatalf("expected 2 doc queries counted, got %d", out.Trace.ResourcesUsed.DocQueries)
	}
}

func TestRunEvaluatorFailureReturnsCurrentAnswer(t *testing.T) {
	llm := scriptedLLM()
	out := newTestOrchestrator(llm, &fakeDocSearcher{}, nil, testLimits()).Run(context.Background(), evaluationInput(goodResults(3), 40))

	if out.Trace.FinalState != domain.StateReturned || !containsSubstring(out.Trace.Steps[0].Gaps, gapEvaluatorFailure) {
		t.Fatalf("unexpected trace %+v", out.Trace)
	}
	if out.Answer != "initial answer" {
		t.Fatalf("answer must be unchanged, got %q", out.Answer)
	}
}

func TestRunDeduplicatesSourcesByURL(t *testing.T) {
	initial := []domain.ScoredResult{scored("a0", "page-a", 0, 0.6), scored("a1", "page-a", 1, 0.5), scored("b0", "page-b", 0, 0.4)}
	docs := &fakeDocSearcher{next: func(int, []string) ([]domain.ScoredResult, error) {
		return []domain.ScoredResult{scored("a9", "page-a", 9, 0.9), scored("c0", "page-c", 0, 0.3)}, nil
	}}
	llm := scriptedLLM(
		`{"action":{"type":"QUERY_MORE_DOCS","queries":["retry headers"]}}`,
		`{"action":{"type":"RETURN_ANSWER","reason":"enough"}}`,
	)

	out := newTestOrchestrator(llm, docs, nil, testLimits()).Run(context.Background(), evaluationInput(initial, 30))

	seen := make(map[string]bool)
	for _, s := range out.Sources {
		if seen[s.URL] {
			t.Fatalf("duplicate source %s in %+v", s.URL, out.Sources)
		}
		seen[s.URL] = true
	}
	if len(out.Sources) != 3 {
		t.Fatalf("expected 3 distinct sources, got %+v", out.Sources)
	}
	if len(out.Results) != 4 {
		t.Fatalf("expected only the new page merged, got %v", keys(out.Results))
	}
	if out.Trace.ResourcesUsed.DocQueries != 1 {
		t.Fatalf("expected one doc query, got %d", out.Trace.ResourcesUsed.DocQueries)
	}
}

func TestRunWebSearchUnavailable(t *testing.T) {
	llm := scriptedLLM(
		`{"action":{"type":"SEARCH_WEB","queries":["webhook retries"]}}`,
		`{"action":{"type":"RETURN_ANSWER"}}`,
	)
	out := newTestOrchestrator(llm, &fakeDocSearcher{}, nil, testLimits()).Run(context.Background(), evaluationInput(goodResults(3), 30))

	if !containsSubstring(out.Warnings, "web search requested but not configured") {
		t.Fatalf("expected not-configured warning, got %v", out.Warnings)
	}
	if out.Trace.ResourcesUsed.WebSearches != 0 {
		t.Fatalf("expected no web searches, got %d", out.Trace.ResourcesUsed.WebSearches)
	}
	if out.Trace.FinalState != domain.StateReturned || len(out.Trace.Steps) != 2 {
		t.Fatalf("unexpected trace %+v", out.Trace)
	}
}

func TestRunSynthesizesFromWebWhenIndexIsThin(t *testing.T) {
	web := &fakeWebSearch{results: []domain.WebResult{
		{Title: "Retries", URL: "https://blog.example.com/retries", Content: "Retries stop after 5 attempts."},
		{Title: "Retries again", URL: "https://blog.example.com/retries"},
	}}
	llm := scriptedLLM(
		`{"action":{"type":"SEARCH_WEB","queries":["webhook retries","webhook retry limit","third"]}}`,
		`{"action":{"type":"RETURN_ANSWER"}}`,
	)

	out := newTestOrchestrator(llm, &fakeDocSearcher{}, web, testLimits()).Run(context.Background(), evaluationInput(goodResults(1), 30))

	if out.Answer != "answer from the web" {
		t.Fatalf("expected web synthesis, got %q", out.Answer)
	}
	if out.Trace.ResourcesUsed.WebSearches != 2 || len(web.queries) != 2 {
		t.Fatalf("expected two web searches, got %d (%v)", out.Trace.ResourcesUsed.WebSearches, web.queries)
	}
	// initial + (evaluator, related) + one analysis + web synthesis + (evaluator, related)
	if out.Trace.ResourcesUsed.LLMCalls != 7 {
		t.Fatalf("expected 7 llm calls, got %d", out.Trace.ResourcesUsed.LLMCalls)
	}
	var webSources int
	for _, s := range out.Sources {
		if s.Type == domain.SourceWeb {
			webSources++
		}
	}
	if webSources != 1 {
		t.Fatalf("expected one deduplicated web source, got %+v", out.Sources)
	}
}

func TestRunRefinementRecomputesConfidence(t *testing.T) {
	llm := scriptedLLM(
		`{"action":{"type":"REFINE_ANSWER","focusAreas":["examples"]}}`,
		`{"action":{"type":"RETURN_ANSWER"}}`,
	)
	out := newTestOrchestrator(llm, &fakeDocSearcher{}, nil, testLimits()).Run(context.Background(), evaluationInput(goodResults(3), 5))

	if out.Answer != "refined answer" {
		t.Fatalf("expected refined answer, got %q", out.Answer)
	}
	if out.Confidence.Score == 5 || out.Trace.Steps[0].Confidence != out.Confidence.Score {
		t.Fatalf("expected recomputed confidence, got %d (step %d)", out.Confidence.Score, out.Trace.Steps[0].Confidence)
	}
}

func containsSubstring(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}
