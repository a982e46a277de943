package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const thinIndexedResults = 3

// LLMRoles holds one client per role. Unset roles fall back to Primary.
type LLMRoles struct {
	Primary   ports.LLMClient
	Evaluator ports.LLMClient
	Refiner   ports.LLMClient
	Analyzer  ports.LLMClient
}

func (r LLMRoles) primary() ports.LLMClient { return r.Primary }

func (r LLMRoles) evaluator() ports.LLMClient {
	if r.Evaluator != nil {
		return r.Evaluator
	}
	return r.Primary
}

func (r LLMRoles) refiner() ports.LLMClient {
	if r.Refiner != nil {
		return r.Refiner
	}
	return r.Primary
}

func (r LLMRoles) analyzer() ports.LLMClient {
	if r.Analyzer != nil {
		return r.Analyzer
	}
	return r.Primary
}

type docSearcher interface {
	MultiQuerySearch(ctx context.Context, queries []string, opts domain.SearchOptions) ([]domain.ScoredResult, error)
}

type OrchestratorConfig struct {
	Limits           domain.EvaluationLimits
	WebSearchEnabled bool
	WebMaxResults    int
	MaxParallel      int
}

// EvaluationOrchestrator runs the bounded evaluate-act loop over an initial answer.
type EvaluationOrchestrator struct {
	docs          docSearcher
	web           ports.WebSearchClient
	llms          LLMRoles
	scorer        *ConfidenceScorer
	limits        domain.EvaluationLimits
	webEnabled    bool
	webMaxResults int
	maxParallel   int
	logger        *slog.Logger
	now           func() time.Time
}

func NewEvaluationOrchestrator(
	docs docSearcher,
	web ports.WebSearchClient,
	llms LLMRoles,
	scorer *ConfidenceScorer,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *EvaluationOrchestrator {
	if scorer == nil {
		scorer = NewConfidenceScorer()
	}
	if cfg.WebMaxResults <= 0 {
		cfg.WebMaxResults = 5
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &EvaluationOrchestrator{
		docs:          docs,
		web:           web,
		llms:          llms,
		scorer:        scorer,
		limits:        cfg.Limits.Normalize(),
		webEnabled:    cfg.WebSearchEnabled,
		webMaxResults: cfg.WebMaxResults,
		maxParallel:   cfg.MaxParallel,
		logger:        componentLogger(logger, "evaluation"),
		now:           time.Now,
	}
}

type EvaluationInput struct {
	Query         string
	Analysis      domain.QueryAnalysis
	SearchOptions domain.SearchOptions
	Answer        string
	Confidence    domain.ConfidenceResult
	Results       []domain.ScoredResult
	// LLMCalls already spent producing Answer.
	LLMCalls int
}

type EvaluationOutcome struct {
	Answer         string
	Confidence     domain.ConfidenceResult
	Results        []domain.ScoredResult
	WebFindings    []domain.WebFinding
	Sources        []domain.Source
	Warnings       []string
	RelatedQueries []string
	Trace          domain.EvaluationTrace
}

// loopState is everything one run mutates. It is owned by a single request.
type loopState struct {
	iteration  int
	answer     string
	confidence domain.ConfidenceResult
	results    []domain.ScoredResult
	web        []domain.WebFinding
	previous   domain.CompressedContext
	docBudget  int
	webBudget  int
	docsTried  []string
	webTried   []string

	// material gathered since the answer was last rewritten
	pendingDocs []domain.ScoredResult
	pendingWeb  []domain.WebFinding

	sources  []domain.Source
	warnings []string
	related  []string
	usage    domain.ResourceUsage
	steps    []domain.TraceStep
}

func (st loopState) hasPendingMaterial() bool {
	return len(st.pendingDocs) > 0 || len(st.pendingWeb) > 0
}

func (o *EvaluationOrchestrator) webAvailable() bool {
	return o.webEnabled && o.web != nil
}

// Run always returns an outcome. Collaborator failures become warnings.
func (o *EvaluationOrchestrator) Run(ctx context.Context, in EvaluationInput) EvaluationOutcome {
	started := o.now()
	st := o.initialState(in)

	if st.confidence.Score >= o.limits.AutoReturnConfidence {
		st.related = o.generateRelatedQueries(ctx, in.Query, st.answer)
		st.usage.LLMCalls++
		o.logger.Info("evaluation_quick_return", "confidence", st.confidence.Score, "threshold", o.limits.AutoReturnConfidence)
		return o.finish(st, domain.StateQuickReturn, started)
	}

	for st.iteration = 1; st.iteration < o.limits.MaxIterations; st.iteration++ {
		if ctx.Err() != nil {
			st.warnings = append(st.warnings, "evaluation cancelled; returning best answer so far")
			return o.finish(st, domain.StateReturned, started)
		}
		var next bool
		st, next = o.step(ctx, in, st)
		if !next {
			return o.finish(st, domain.StateReturned, started)
		}
	}

	st = o.finalSynthesis(ctx, in, st)
	return o.finish(st, domain.StateFinalSynthesis, started)
}

func (o *EvaluationOrchestrator) initialState(in EvaluationInput) loopState {
	st := loopState{
		answer:     in.Answer,
		confidence: in.Confidence,
		results:    append([]domain.ScoredResult{}, in.Results...),
		docBudget:  o.limits.MaxDocQueries,
		webBudget:  o.limits.MaxWebSearches,
		usage:      domain.ResourceUsage{LLMCalls: in.LLMCalls},
	}
	st.sources = appendIndexedSources(st.sources, in.Results)
	return st
}

// step runs one LOOPING iteration and reports whether the loop should continue.
func (o *EvaluationOrchestrator) step(ctx context.Context, in EvaluationInput, st loopState) (loopState, bool) {
	started := o.now()
	ec := evaluatorContext{
		query:          in.Query,
		analysis:       in.Analysis,
		answer:         st.answer,
		confidence:     st.confidence,
		previous:       st.previous,
		docBudget:      st.docBudget,
		webBudget:      st.webBudget,
		webAvailable:   o.webAvailable(),
		results:        st.results,
		coverageGaps:   CoverageGaps(in.Query, in.Analysis, st.results),
		iteration:      st.iteration,
		maxIterations:  o.limits.MaxIterations,
		webFindings:    len(st.web),
		queriesPerStep: o.limits.MaxQueriesPerAction,
	}

	var (
		raw     string
		evalErr error
		related []string
		g       errgroup.Group
	)
	g.Go(func() error {
		raw, evalErr = o.evaluate(ctx, ec)
		return nil
	})
	g.Go(func() error {
		related = o.generateRelatedQueries(ctx, in.Query, st.answer)
		return nil
	})
	_ = g.Wait()
	st.usage.LLMCalls += 2
	if len(related) > 0 {
		st.related = related
	}

	var decision evaluationDecision
	if evalErr != nil {
		o.logger.Warn("evaluator_call_failed", "iteration", st.iteration, "error", evalErr)
		decision = degradedDecision(st.previous, gapEvaluatorFailure, "evaluator unavailable")
	} else {
		decision = decodeEvaluation(raw, st.previous)
	}
	// Executed queries are facts of this run; the evaluator cannot forget them.
	st.previous = decision.context
	st.previous.QueriesTried = dedupeStrings(append(append([]string{}, st.docsTried...), decision.context.QueriesTried...))
	st.previous.WebSearchesDone = dedupeStrings(append(append([]string{}, st.webTried...), decision.context.WebSearchesDone...))

	record := domain.TraceStep{
		Iteration: st.iteration,
		Phase:     domain.PhaseEvaluate,
		Action:    decision.action.Type(),
		Reason:    decision.action.Why(),
	}
	o.logger.Info("evaluation_step",
		"iteration", st.iteration,
		"action", decision.action.Type(),
		"confidence", st.confidence.Score,
	)

	next := true
	changed := false
	switch action := decision.action.(type) {
	case domain.ReturnAnswer:
		next = false
	case domain.QueryMoreDocs:
		st, record.Queries = o.queryMoreDocs(ctx, in, st, action.Queries)
		changed = len(record.Queries) > 0
	case domain.SearchWeb:
		st, record.Queries = o.searchWeb(ctx, in, st, action.Queries)
		changed = len(record.Queries) > 0
	case domain.RefineAnswer:
		st = o.applyRefinement(ctx, in, st, action.FocusAreas)
		changed = true
	default:
		o.logger.Error("unhandled_evaluation_action", "action", fmt.Sprintf("%T", action))
		next = false
	}

	if changed {
		st.confidence = o.scorer.Score(in.Query, in.Analysis, st.results, st.answer)
	}
	record.Confidence = st.confidence.Score
	record.Gaps = dedupeStrings(append(append([]string{}, decision.diagnostics...), decision.context.IdentifiedGaps...))
	record.DurationMs = o.now().Sub(started).Milliseconds()
	st.steps = append(st.steps, record)

	if next && st.confidence.Score >= o.limits.AutoReturnConfidence {
		o.logger.Info("evaluation_confidence_reached", "iteration", st.iteration, "confidence", st.confidence.Score)
		next = false
	}
	return st, next
}

func (o *EvaluationOrchestrator) evaluate(ctx context.Context, ec evaluatorContext) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()
	return o.llms.evaluator().Synthesize(callCtx, evaluatorSystemPrompt, buildEvaluatorPrompt(ec), domain.CompletionOptions{
		MaxTokens:   o.limits.EvaluatorMaxTokens,
		Temperature: 0,
	})
}

func (o *EvaluationOrchestrator) queryMoreDocs(ctx context.Context, in EvaluationInput, st loopState, proposed []string) (loopState, []string) {
	if st.docBudget <= 0 {
		st.warnings = append(st.warnings, "documentation query budget exhausted")
		return st, nil
	}
	queries := untried(proposed, st.docsTried)
	queries = queries[:min(len(queries), o.limits.MaxQueriesPerAction, st.docBudget)]
	if len(queries) == 0 || o.docs == nil {
		return st, nil
	}

	st.docBudget -= len(queries)
	st.usage.DocQueries += len(queries)
	st.docsTried = append(st.docsTried, queries...)
	st.previous.QueriesTried = dedupeStrings(append(st.previous.QueriesTried, queries...))

	opts := in.SearchOptions
	opts.WithRerank = false
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()
	found, err := o.docs.MultiQuerySearch(callCtx, queries, opts)
	if err != nil {
		o.logger.Warn("doc_query_failed", "queries", queries, "error", err)
		return st, queries
	}

	added := newByURL(st.results, found)
	st.results = append(st.results, added...)
	st.pendingDocs = append(st.pendingDocs, added...)
	st.sources = appendIndexedSources(st.sources, added)
	o.logger.Debug("doc_query_merged", "queries", queries, "found", len(found), "added", len(added))
	return st, queries
}

func (o *EvaluationOrchestrator) searchWeb(ctx context.Context, in EvaluationInput, st loopState, proposed []string) (loopState, []string) {
	if !o.webAvailable() {
		st.warnings = append(st.warnings, "web search requested but not configured")
		return st, nil
	}
	if st.webBudget <= 0 {
		st.warnings = append(st.warnings, "web search budget exhausted")
		return st, nil
	}
	queries := untried(proposed, st.webTried)
	queries = queries[:min(len(queries), o.limits.MaxQueriesPerAction, st.webBudget)]
	if len(queries) == 0 {
		return st, nil
	}

	st.webBudget -= len(queries)
	st.usage.WebSearches += len(queries)
	st.webTried = append(st.webTried, queries...)
	st.previous.WebSearchesDone = dedupeStrings(append(st.previous.WebSearchesDone, queries...))

	responses := make([]domain.WebSearchResponse, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
			defer cancel()
			responses[i], errs[i] = o.web.Search(callCtx, q, domain.WebSearchOptions{MaxResults: o.webMaxResults})
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	for _, f := range st.web {
		seen[f.Result.URL] = struct{}{}
	}
	fresh := make([]domain.WebResult, 0)
	for i, resp := range responses {
		if errs[i] != nil {
			o.logger.Warn("web_search_failed", "query", queries[i], "error", errs[i])
			st.warnings = append(st.warnings, fmt.Sprintf("web search failed for %q", queries[i]))
			continue
		}
		for _, r := range resp.Results {
			if r.URL == "" {
				continue
			}
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return st, queries
	}

	gaps := dedupeStrings(append(append(append([]string{}, st.previous.IdentifiedGaps...), st.previous.StillNeeded...), CoverageGaps(in.Query, in.Analysis, st.results)...))
	relevant, calls := o.analyzeWebResults(ctx, in.Query, gaps, fresh)
	st.usage.LLMCalls += calls
	st.web = append(st.web, relevant...)
	st.pendingWeb = append(st.pendingWeb, relevant...)
	st.sources = appendWebSources(st.sources, relevant)

	if len(st.results) < thinIndexedResults && len(relevant) > 0 {
		answer, err := o.synthesizeFromWeb(ctx, in.Query, st.web)
		st.usage.LLMCalls++
		if err != nil {
			o.logger.Warn("web_synthesis_failed", "error", err)
			st.warnings = append(st.warnings, "could not synthesize an answer from web results")
		} else {
			st.answer = answer
			st.pendingWeb = nil
		}
	}
	return st, queries
}

func (o *EvaluationOrchestrator) synthesizeFromWeb(ctx context.Context, question string, findings []domain.WebFinding) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()
	out, err := o.llms.primary().Synthesize(callCtx, webSynthesisSystemPrompt, buildWebSynthesisPrompt(question, findings), domain.CompletionOptions{
		MaxTokens:   o.limits.SynthesisMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty web synthesis")
	}
	return out, nil
}

func (o *EvaluationOrchestrator) applyRefinement(ctx context.Context, in EvaluationInput, st loopState, focus []string) loopState {
	refined, err := o.refine(ctx, in.Query, st.answer, focus, st.pendingDocs, st.pendingWeb)
	st.usage.LLMCalls++
	if err != nil {
		o.logger.Warn("refinement_failed", "iteration", st.iteration, "error", err)
		st.warnings = append(st.warnings, "answer refinement failed; kept the previous answer")
		return st
	}
	st.answer = refined
	st.pendingDocs = nil
	st.pendingWeb = nil
	return st
}

func (o *EvaluationOrchestrator) refine(
	ctx context.Context,
	question, answer string,
	focus []string,
	docs []domain.ScoredResult,
	web []domain.WebFinding,
) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.CallTimeout)
	defer cancel()
	out, err := o.llms.refiner().Synthesize(callCtx, refinerSystemPrompt, buildRefinePrompt(question, answer, focus, docs, web), domain.CompletionOptions{
		MaxTokens:   o.limits.RefinerMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty refinement")
	}
	return out, nil
}

// finalSynthesis never consults the evaluator. It folds in pending material
// once, alongside a last related-query call, and always ends the run.
func (o *EvaluationOrchestrator) finalSynthesis(ctx context.Context, in EvaluationInput, st loopState) loopState {
	started := o.now()
	refineNeeded := st.hasPendingMaterial()

	var (
		refined    string
		refineErr  error
		related    []string
		g          errgroup.Group
		focusAreas = st.previous.StillNeeded
	)
	if refineNeeded {
		g.Go(func() error {
			refined, refineErr = o.refine(ctx, in.Query, st.answer, focusAreas, st.pendingDocs, st.pendingWeb)
			return nil
		})
	}
	g.Go(func() error {
		related = o.generateRelatedQueries(ctx, in.Query, st.answer)
		return nil
	})
	_ = g.Wait()

	st.usage.LLMCalls++
	if len(related) > 0 {
		st.related = related
	}
	action := domain.ActionReturnAnswer
	if refineNeeded {
		st.usage.LLMCalls++
		action = domain.ActionRefineAnswer
		if refineErr != nil {
			o.logger.Warn("final_refinement_failed", "error", refineErr)
			st.warnings = append(st.warnings, "final refinement failed; kept the previous answer")
		} else {
			st.answer = refined
			st.pendingDocs = nil
			st.pendingWeb = nil
			st.confidence = o.scorer.Score(in.Query, in.Analysis, st.results, st.answer)
		}
	}

	st.warnings = append(st.warnings, fmt.Sprintf("evaluation budget exhausted after %d iterations; returning the best answer gathered", o.limits.MaxIterations))
	st.steps = append(st.steps, domain.TraceStep{
		Iteration:  st.iteration,
		Phase:      domain.PhaseFinalSynthesis,
		Action:     action,
		Reason:     "max iterations reached",
		Confidence: st.confidence.Score,
		DurationMs: o.now().Sub(started).Milliseconds(),
	})
	return st
}

func (o *EvaluationOrchestrator) finish(st loopState, state domain.EvaluationState, started time.Time) EvaluationOutcome {
	return EvaluationOutcome{
		Answer:         st.answer,
		Confidence:     st.confidence,
		Results:        st.results,
		WebFindings:    st.web,
		Sources:        dedupeSources(st.sources),
		Warnings:       dedupeStrings(st.warnings),
		RelatedQueries: st.related,
		Trace: domain.EvaluationTrace{
			ID:              uuid.NewString(),
			Steps:           append([]domain.TraceStep{}, st.steps...),
			ResourcesUsed:   st.usage,
			FinalState:      state,
			TotalDurationMs: o.now().Sub(started).Milliseconds(),
		},
	}
}

func untried(proposed, tried []string) []string {
	done := make(map[string]struct{}, len(tried))
	for _, q := range tried {
		done[strings.ToLower(strings.TrimSpace(q))] = struct{}{}
	}
	out := make([]string, 0, len(proposed))
	for _, q := range dedupeStrings(proposed) {
		if _, ok := done[strings.ToLower(q)]; ok {
			continue
		}
		out = append(out, q)
	}
	return out
}

// newByURL returns results whose URL is not already present.
func newByURL(current, found []domain.ScoredResult) []domain.ScoredResult {
	seen := make(map[string]struct{}, len(current))
	for _, r := range current {
		seen[r.Chunk.URL] = struct{}{}
	}
	out := make([]domain.ScoredResult, 0, len(found))
	for _, r := range found {
		if _, ok := seen[r.Chunk.URL]; ok {
			continue
		}
		seen[r.Chunk.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}

func appendIndexedSources(sources []domain.Source, results []domain.ScoredResult) []domain.Source {
	for _, r := range results {
		sources = append(sources, domain.Source{Type: domain.SourceIndexed, URL: r.Chunk.URL, Title: r.Chunk.Title})
	}
	return sources
}

func appendWebSources(sources []domain.Source, findings []domain.WebFinding) []domain.Source {
	for _, f := range findings {
		sources = append(sources, domain.Source{Type: domain.SourceWeb, URL: f.Result.URL, Title: f.Result.Title})
	}
	return sources
}

// dedupeSources keeps the first occurrence of every URL.
func dedupeSources(sources []domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s.URL == "" {
			continue
		}
		if _, ok := seen[s.URL]; ok {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}
