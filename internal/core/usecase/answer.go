package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const (
	maxSuggestedQueries  = 4
	extractiveSourceList = 5
)

type AnswerConfig struct {
	Limits           domain.EvaluationLimits
	Search           HybridSearchConfig
	Adjacency        AdjacencyConfig
	Corrective       CorrectiveConfig
	Rerank           RerankConfig
	WebSearchEnabled bool
	WebMaxResults    int
	MaxParallel      int
}

// AnswerUseCase composes retrieval, synthesis and agentic evaluation into a
// single answer call.
type AnswerUseCase struct {
	classifier   *QueryClassifier
	searcher     *HybridSearcher
	corrective   *CorrectiveRetriever
	reranker     *Reranker
	expander     *AdjacencyExpander
	scorer       *ConfidenceScorer
	orchestrator *EvaluationOrchestrator
	llms         LLMRoles
	limits       domain.EvaluationLimits
	metrics      ports.AnswerMetrics
	logger       *slog.Logger
	now          func() time.Time
}

func NewAnswerUseCase(
	embedder ports.Embedder,
	vectors ports.VectorSearch,
	fulltext ports.FullTextSearch,
	web ports.WebSearchClient,
	llms LLMRoles,
	cfg AnswerConfig,
	logger *slog.Logger,
) *AnswerUseCase {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limits := cfg.Limits.Normalize()
	if cfg.Search.MaxParallel <= 0 {
		cfg.Search.MaxParallel = cfg.MaxParallel
	}
	if cfg.Adjacency.MaxParallel <= 0 {
		cfg.Adjacency.MaxParallel = cfg.MaxParallel
	}

	searcher := NewHybridSearcher(embedder, vectors, fulltext, cfg.Search, logger)
	scorer := NewConfidenceScorer()
	return &AnswerUseCase{
		classifier: NewQueryClassifier(),
		searcher:   searcher,
		corrective: NewCorrectiveRetriever(searcher.Search, cfg.Corrective, logger),
		reranker:   NewReranker(llms.analyzer(), cfg.Rerank, logger),
		expander:   NewAdjacencyExpander(fulltext, cfg.Adjacency, logger),
		scorer:     scorer,
		orchestrator: NewEvaluationOrchestrator(searcher, web, llms, scorer, OrchestratorConfig{
			Limits:           limits,
			WebSearchEnabled: cfg.WebSearchEnabled,
			WebMaxResults:    cfg.WebMaxResults,
			MaxParallel:      cfg.MaxParallel,
		}, logger),
		llms:   llms,
		limits: limits,
		logger: componentLogger(logger, "answer"),
		now:    time.Now,
	}
}

// WithMetrics attaches an observer for completed answers.
func (uc *AnswerUseCase) WithMetrics(m ports.AnswerMetrics) *AnswerUseCase {
	uc.metrics = m
	return uc
}

// Search is raw fused retrieval without synthesis.
func (uc *AnswerUseCase) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.ScoredResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = uc.searcher.cfg.DefaultLimit
	}
	results, err := uc.searcher.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if opts.WithRerank {
		return uc.reranker.Rerank(ctx, query, results, opts.Limit), nil
	}
	return trimResults(results, opts.Limit), nil
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required"))
	}
	if uc.llms.primary() == nil {
		return nil, domain.WrapError(domain.ErrNoBackend, "answer", errors.New("no LLM client configured"))
	}
	started := uc.now()
	analysis := uc.classifier.Classify(question)
	opts := domain.SearchOptions{
		Limit:       analysis.SuggestedLimit,
		ContentType: analysis.SuggestedContentType,
		Project:     strings.TrimSpace(req.Project),
		Mode:        domain.SearchModeHybrid,
		WithRerank:  analysis.Rerank,
	}

	corrective, err := uc.retrieve(ctx, analysis, &opts)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(corrective.Results) == 0 {
		result := uc.noResults(question, opts.Project, analysis, corrective, started)
		uc.observe(result, started)
		return result, nil
	}

	var ranked []domain.ScoredResult
	if analysis.Rerank {
		ranked = uc.reranker.Rerank(ctx, question, corrective.Results, analysis.RerankTopK)
	} else {
		ranked = trimResults(corrective.Results, opts.Limit)
	}
	expanded := uc.expander.Expand(ctx, ranked, analysis.AdjacencyWindows)

	warnings := make([]string, 0, 4)
	if corrective.WasRetried {
		warnings = append(warnings, fmt.Sprintf(
			"initial retrieval quality was %s; retried with %d alternative queries (now %s)",
			corrective.InitialQuality, corrective.RetriesUsed, corrective.Quality,
		))
	}

	answer, synthErr := uc.synthesize(ctx, question, expanded, req.Options.MaxTokens)
	if synthErr != nil {
		uc.logger.Warn("synthesis_failed", "query_type", analysis.Type, "error", synthErr)
		warnings = append(warnings, "answer synthesis failed; showing the most relevant documentation excerpts instead")
		answer = extractiveAnswer(question, expanded)
	}
	confidence := uc.scorer.Score(question, analysis, expanded, answer)

	var outcome EvaluationOutcome
	if req.Options.UseAgenticEvaluation {
		outcome = uc.orchestrator.Run(ctx, EvaluationInput{
			Query:         question,
			Analysis:      analysis,
			SearchOptions: opts,
			Answer:        answer,
			Confidence:    confidence,
			Results:       expanded,
			LLMCalls:      1,
		})
	} else {
		outcome = uc.withoutEvaluation(ctx, question, answer, confidence, expanded, started)
	}

	result := &domain.AnswerResult{
		Answer:           outcome.Answer,
		Confidence:       outcome.Confidence.Score,
		ConfidenceDetail: outcome.Confidence,
		Sources:          outcome.Sources,
		Warnings:         dedupeStrings(append(warnings, outcome.Warnings...)),
		RelatedQueries:   outcome.RelatedQueries,
		Trace:            outcome.Trace,
		QueryType:        analysis.Type,
		Corrective:       &corrective,
	}
	uc.observe(result, started)
	uc.logger.Info("answer_completed",
		"query_type", analysis.Type,
		"confidence", result.Confidence,
		"final_state", result.Trace.FinalState,
		"llm_calls", result.Trace.ResourcesUsed.LLMCalls,
		"sources", len(result.Sources),
		"duration_ms", uc.now().Sub(started).Milliseconds(),
	)
	return result, nil
}

// retrieve runs corrective retrieval and drops the content-type filter once
// when it alone left nothing to work with.
func (uc *AnswerUseCase) retrieve(ctx context.Context, analysis domain.QueryAnalysis, opts *domain.SearchOptions) (domain.CorrectiveResult, error) {
	res, err := uc.corrective.Search(ctx, analysis.ExpandedQuery, analysis, *opts)
	if err != nil {
		return domain.CorrectiveResult{}, err
	}
	if len(res.Results) > 0 || opts.ContentType == "" {
		return res, nil
	}
	uc.logger.Info("retrieval_filter_relaxed", "content_type", opts.ContentType, "query_type", analysis.Type)
	opts.ContentType = ""
	return uc.corrective.Search(ctx, analysis.ExpandedQuery, analysis, *opts)
}

func (uc *AnswerUseCase) synthesize(ctx context.Context, question string, results []domain.ScoredResult, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = uc.limits.SynthesisMaxTokens
	}
	callCtx, cancel := context.WithTimeout(ctx, uc.limits.CallTimeout)
	defer cancel()
	out, err := uc.llms.primary().Synthesize(callCtx, synthesisSystemPrompt, buildSynthesisPrompt(question, results), domain.CompletionOptions{
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty synthesis")
	}
	return out, nil
}

func (uc *AnswerUseCase) withoutEvaluation(
	ctx context.Context,
	question, answer string,
	confidence domain.ConfidenceResult,
	results []domain.ScoredResult,
	started time.Time,
) EvaluationOutcome {
	related := uc.orchestrator.generateRelatedQueries(ctx, question, answer)
	return EvaluationOutcome{
		Answer:         answer,
		Confidence:     confidence,
		Results:        results,
		Sources:        dedupeSources(appendIndexedSources(nil, results)),
		RelatedQueries: related,
		Trace: domain.EvaluationTrace{
			ID:              uuid.NewString(),
			Steps:           []domain.TraceStep{},
			ResourcesUsed:   domain.ResourceUsage{LLMCalls: 2},
			FinalState:      domain.StateSkipped,
			TotalDurationMs: uc.now().Sub(started).Milliseconds(),
		},
	}
}

func (uc *AnswerUseCase) noResults(
	question, project string,
	analysis domain.QueryAnalysis,
	corrective domain.CorrectiveResult,
	started time.Time,
) *domain.AnswerResult {
	suggestions := suggestQueries(question, project, analysis)

	var b strings.Builder
	if project != "" {
		fmt.Fprintf(&b, "No documentation found for %q in project %q.\n\n", question, project)
	} else {
		fmt.Fprintf(&b, "No documentation found for %q.\n\n", question)
	}
	b.WriteString("Try one of these searches instead:\n")
	for _, s := range suggestions {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\nIf the project has not been indexed yet, index it first and ask again.")

	uc.logger.Info("answer_no_results", "query_type", analysis.Type, "project", project, "retries", corrective.RetriesUsed)
	return &domain.AnswerResult{
		Answer:           b.String(),
		Confidence:       0,
		ConfidenceDetail: domain.ConfidenceResult{Explanation: "no documentation matched the question"},
		Sources:          []domain.Source{},
		QueryType:        analysis.Type,
		Corrective:       &corrective,
		NoResults:        true,
		SuggestedQueries: suggestions,
		Trace: domain.EvaluationTrace{
			ID:              uuid.NewString(),
			Steps:           []domain.TraceStep{},
			FinalState:      domain.StateSkipped,
			TotalDurationMs: uc.now().Sub(started).Milliseconds(),
		},
	}
}

// suggestQueries always returns at least one query.
func suggestQueries(question, project string, analysis domain.QueryAnalysis) []string {
	suggestions := GenerateAlternativeQueries(question, analysis, maxSuggestedQueries)
	suggestions = append(suggestions, analysis.Keywords...)
	suggestions = dedupeStrings(suggestions)
	if len(suggestions) == 0 {
		fallback := strings.Join(significantWords(question), " ")
		if fallback == "" {
			fallback = strings.TrimSpace(project + " documentation")
		}
		suggestions = []string{fallback}
	}
	return trimStrings(suggestions, maxSuggestedQueries)
}

// extractiveAnswer lists the strongest excerpts when synthesis is unavailable.
func extractiveAnswer(question string, results []domain.ScoredResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following documentation looks relevant to %q:\n\n", question)
	seen := make(map[string]struct{})
	listed := 0
	for _, r := range results {
		if listed == extractiveSourceList {
			break
		}
		if r.Neighbor {
			continue
		}
		if _, dup := seen[r.Chunk.URL]; dup {
			continue
		}
		seen[r.Chunk.URL] = struct{}{}
		listed++
		title := r.Chunk.Title
		if r.Chunk.Section != "" {
			title += " > " + r.Chunk.Section
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", listed, title, r.Chunk.URL, truncateRunes(strings.TrimSpace(r.Chunk.Content), 240))
	}
	return b.String()
}

func (uc *AnswerUseCase) observe(result *domain.AnswerResult, started time.Time) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.ObserveAnswer(result, uc.now().Sub(started))
}
