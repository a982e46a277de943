package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docs-answer-engine/internal/config"
	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
	"github.com/kirillkom/docs-answer-engine/internal/core/usecase"
	badgercache "github.com/kirillkom/docs-answer-engine/internal/infrastructure/cache/badger"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/chunking"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/fulltext/postgres"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/fulltext/sqlite"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/llm/claude"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/websearch/tavily"
	"github.com/kirillkom/docs-answer-engine/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.EngineMetrics

	Answers *usecase.AnswerUseCase
	Indexer *usecase.IndexUseCase

	closers []func() error
}

type backends struct {
	vectorSearch ports.VectorSearch
	vectorIndex  ports.VectorIndex
	fullText     ports.FullTextSearch
	textIndex    ports.TextIndex
}

// New wires every adapter from cfg. Engine metrics register on registerer;
// a nil registerer keeps them private to the process.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	app := &App{Config: cfg, Logger: logger}
	app.Metrics = metrics.NewEngineMetrics(registerer)
	executor := resilience.NewExecutor(resilienceConfig(cfg), logger).WithStateObserver(app.Metrics.ObserveBreakerState)

	llms, err := buildLLMs(ctx, cfg, executor)
	if err != nil {
		return nil, err
	}
	embedder, err := app.buildEmbedder(ctx, cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}
	store, err := app.buildBackends(ctx, cfg, executor)
	if err != nil {
		app.Close()
		return nil, err
	}

	var web ports.WebSearchClient
	if cfg.WebSearchEnabled {
		web = tavily.New(cfg.TavilyAPIKey, executor, tavily.WithSearchDepth(cfg.TavilySearchDepth))
	}

	app.Answers = usecase.NewAnswerUseCase(
		embedder,
		store.vectorSearch,
		store.fullText,
		web,
		llms,
		answerConfig(cfg),
		logger,
	).WithMetrics(app.Metrics)
	app.Indexer = usecase.NewIndexUseCase(
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		store.vectorIndex,
		store.textIndex,
		usecase.IndexConfig{},
		logger,
	)

	logger.Info("engine_ready",
		"llm_provider", cfg.LLMProvider,
		"embed_provider", cfg.EmbedProvider,
		"vector", store.vectorSearch != nil,
		"fulltext", cfg.FullTextBackend,
		"web_search", web != nil,
	)
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}

func buildLLMs(ctx context.Context, cfg config.Config, executor *resilience.Executor) (usecase.LLMRoles, error) {
	var primary, fast ports.LLMClient
	switch cfg.LLMProvider {
	case "anthropic":
		primary = claude.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, executor)
		if cfg.AnthropicFastModel != "" {
			fast = claude.New(cfg.AnthropicAPIKey, cfg.AnthropicFastModel, executor)
		}
	case "gemini":
		client, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel}, executor)
		if err != nil {
			return usecase.LLMRoles{}, fmt.Errorf("init gemini llm: %w", err)
		}
		primary = client
		if cfg.GeminiFastModel != "" {
			fastClient, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiFastModel}, executor)
			if err != nil {
				return usecase.LLMRoles{}, fmt.Errorf("init gemini fast llm: %w", err)
			}
			fast = fastClient
		}
	case "ollama":
		primary = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
		if cfg.OllamaFastModel != "" {
			fast = ollama.New(cfg.OllamaURL, cfg.OllamaFastModel, cfg.OllamaEmbedModel, executor)
		}
	default:
		return usecase.LLMRoles{}, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
	return usecase.LLMRoles{
		Primary:   primary,
		Refiner:   primary,
		Evaluator: fast,
		Analyzer:  fast,
	}, nil
}

func (a *App) buildEmbedder(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.Embedder, error) {
	var (
		embedder ports.Embedder
		model    string
	)
	switch cfg.EmbedProvider {
	case "gemini":
		client, err := gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, EmbedModel: cfg.GeminiEmbedModel}, executor)
		if err != nil {
			return nil, fmt.Errorf("init gemini embedder: %w", err)
		}
		embedder, model = client, "gemini/"+cfg.GeminiEmbedModel
	case "ollama":
		embedder = ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor))
		model = "ollama/" + cfg.OllamaEmbedModel
	default:
		return nil, fmt.Errorf("unsupported embed provider %q", cfg.EmbedProvider)
	}

	if !cfg.EmbedCacheEnabled {
		return embedder, nil
	}
	db, err := badgercache.Open(cfg.EmbedCacheDir)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return badgercache.NewCachedEmbedder(embedder, db, model, cfg.EmbedCacheTTL(), a.Logger).
		WithObserver(a.Metrics.ObserveEmbeddingCache), nil
}

func (a *App) buildBackends(ctx context.Context, cfg config.Config, executor *resilience.Executor) (backends, error) {
	var out backends
	if cfg.QdrantURL != "" {
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.QdrantAPIKey, executor)
		out.vectorSearch, out.vectorIndex = client, client
	}

	switch cfg.FullTextBackend {
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return out, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := postgres.NewChunkRepository(db, cfg.PostgresTSConfig)
		if err := repo.EnsureSchema(ctx); err != nil {
			return out, fmt.Errorf("ensure schema: %w", err)
		}
		out.fullText, out.textIndex = repo, repo
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return out, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		out.fullText, out.textIndex = store, store
	case "none", "":
	default:
		return out, fmt.Errorf("unsupported full-text backend %q", cfg.FullTextBackend)
	}

	if out.vectorSearch == nil && out.fullText == nil {
		return out, domain.WrapError(domain.ErrNoBackend, "bootstrap", errors.New("no retrieval backend configured"))
	}
	return out, nil
}

func answerConfig(cfg config.Config) usecase.AnswerConfig {
	callTimeout := cfg.CallTimeout()
	return usecase.AnswerConfig{
		Limits: domain.EvaluationLimits{
			MaxIterations:        cfg.EvalMaxIterations,
			AutoReturnConfidence: cfg.EvalAutoReturnConfidence,
			MaxDocQueries:        cfg.EvalMaxDocQueries,
			MaxWebSearches:       cfg.EvalMaxWebSearches,
			MaxQueriesPerAction:  cfg.EvalMaxQueriesPerAction,
			SynthesisMaxTokens:   cfg.SynthesisMaxTokens,
			EvaluatorMaxTokens:   cfg.EvaluatorMaxTokens,
			RefinerMaxTokens:     cfg.RefinerMaxTokens,
			AnalyzerMaxTokens:    cfg.AnalyzerMaxTokens,
			CallTimeout:          callTimeout,
		},
		Search: usecase.HybridSearchConfig{
			RRFK:         cfg.RAGFusionRRFK,
			DefaultLimit: cfg.RAGTopK,
			CallTimeout:  callTimeout,
		},
		Adjacency: usecase.AdjacencyConfig{
			MaxChunks:   cfg.AdjacencyMaxChunks,
			CallTimeout: callTimeout,
		},
		Corrective: usecase.CorrectiveConfig{
			MaxRetries:          cfg.CorrectiveMaxRetries,
			MinResultsThreshold: cfg.CorrectiveMinResults,
		},
		Rerank: usecase.RerankConfig{
			MaxTokens:   cfg.AnalyzerMaxTokens,
			CallTimeout: callTimeout,
		},
		WebSearchEnabled: cfg.WebSearchEnabled,
		WebMaxResults:    cfg.WebMaxResults,
		MaxParallel:      cfg.MaxParallel,
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.BreakerEnabled = cfg.BreakerEnabled
	return out
}

// RequestTimeout bounds one inbound answer across all transports.
func RequestTimeout(cfg config.Config) time.Duration {
	if cfg.APIRequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.APIRequestTimeoutSeconds) * time.Second
}
