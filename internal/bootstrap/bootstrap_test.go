package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docs-answer-engine/internal/config"
	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func sqliteOnlyConfig() config.Config {
	cfg := config.Defaults()
	cfg.QdrantURL = ""
	cfg.FullTextBackend = "sqlite"
	cfg.SQLitePath = ":memory:"
	cfg.EmbedCacheEnabled = true
	cfg.EmbedCacheDir = ""
	return cfg
}

func TestNewWiresSQLiteEngineAndIndexesDocuments(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, sqliteOnlyConfig(), nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	report, err := app.Indexer.Index(ctx, []domain.SourceDocument{{
		URL:     "https://docs.minaprotocol.com/zkapps/deploy",
		Title:   "Deploy a zkApp",
		Content: "Use the zk CLI to deploy a zkApp to devnet.\n\nConfigure the deploy alias first.",
		Project: "mina",
	}})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if report.Documents != 1 || report.Chunks == 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	results, err := app.Answers.Search(ctx, "deploy zkApp", domain.SearchOptions{Mode: domain.SearchModeFTS, Project: "mina"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) == 0 || results[0].Chunk.URL != "https://docs.minaprotocol.com/zkapps/deploy" {
		t.Fatalf("expected indexed chunk in results, got %+v", results)
	}
}

func TestNewRejectsMissingBackends(t *testing.T) {
	cfg := sqliteOnlyConfig()
	cfg.FullTextBackend = "none"

	_, err := New(context.Background(), cfg, nil, nil)
	if !domain.IsKind(err, domain.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestAnswerConfigMapsEvaluationLimits(t *testing.T) {
	cfg := config.Defaults()
	cfg.EvalMaxIterations = 5
	cfg.EvalCallTimeoutSeconds = 12
	cfg.RAGFusionRRFK = 42
	cfg.WebSearchEnabled = true

	got := answerConfig(cfg)
	if got.Limits.MaxIterations != 5 || got.Limits.CallTimeout != 12*time.Second {
		t.Fatalf("unexpected limits %+v", got.Limits)
	}
	if got.Search.RRFK != 42 || got.Search.CallTimeout != 12*time.Second {
		t.Fatalf("unexpected search config %+v", got.Search)
	}
	if !got.WebSearchEnabled || got.WebMaxResults != cfg.WebMaxResults {
		t.Fatalf("unexpected web settings %+v", got)
	}
}

func TestResilienceConfigKeepsDefaultsForBackoff(t *testing.T) {
	cfg := config.Defaults()
	cfg.RetryMaxAttempts = 5
	cfg.BreakerEnabled = false

	got := resilienceConfig(cfg)
	if got.RetryMaxAttempts != 5 || got.BreakerEnabled {
		t.Fatalf("unexpected resilience config %+v", got)
	}
	if got.RetryInitialBackoff <= 0 || got.BreakerOpenTimeout <= 0 {
		t.Fatalf("expected default backoff and breaker timings, got %+v", got)
	}
}
