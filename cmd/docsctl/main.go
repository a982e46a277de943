package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/docs-answer-engine/internal/bootstrap"
	"github.com/kirillkom/docs-answer-engine/internal/config"
	"github.com/kirillkom/docs-answer-engine/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(loadEngine)
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, "docsctl", cfg.LogLevel)
	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &engine{
		answers:        app.Answers,
		search:         app.Answers,
		indexer:        app.Indexer,
		defaultAgentic: cfg.AgenticDefault,
		close:          app.Close,
	}, nil
}
