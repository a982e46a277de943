package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docs-answer-engine/internal/bootstrap"
	"github.com/kirillkom/docs-answer-engine/internal/config"
	"github.com/kirillkom/docs-answer-engine/internal/observability/logging"
)

const (
	serviceName = "docs-mcp"
	version     = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	// stdout carries MCP frames.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mcpServer := server.NewMCPServer(serviceName, version, server.WithToolCapabilities(true))
	tools := toolHandlers{
		answers:        app.Answers,
		search:         app.Answers,
		defaultAgentic: cfg.AgenticDefault,
		timeout:        bootstrap.RequestTimeout(cfg),
		logger:         logger,
	}
	mcpServer.AddTool(askDocsTool(), tools.askDocs)
	mcpServer.AddTool(searchDocsTool(), tools.searchDocs)

	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
