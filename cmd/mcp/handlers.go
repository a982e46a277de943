package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	previewRunes       = 280
)

type toolHandlers struct {
	answers        ports.AnswerService
	search         ports.SearchService
	defaultAgentic bool
	timeout        time.Duration
	logger         *slog.Logger
}

func (h toolHandlers) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (h toolHandlers) askDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question parameter is required"), nil
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()
	result, err := h.answers.Answer(ctx, domain.AnswerRequest{
		Question: question,
		Project:  request.GetString("project", ""),
		Options: domain.AnswerOptions{
			UseAgenticEvaluation: request.GetBool("agentic", h.defaultAgentic),
		},
	})
	if err != nil {
		h.logger.Error("ask_docs_failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAnswer(result)), nil
}

func (h toolHandlers) searchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	contentType := domain.ContentType(request.GetString("content_type", ""))
	if contentType != "" && !contentType.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown content_type %q", contentType)), nil
	}
	limit := request.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()
	results, err := h.search.Search(ctx, query, domain.SearchOptions{
		Limit:       limit,
		Project:     request.GetString("project", ""),
		ContentType: contentType,
	})
	if err != nil {
		h.logger.Error("search_docs_failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatResults(query, results)), nil
}

func formatAnswer(result *domain.AnswerResult) string {
	var b strings.Builder
	b.WriteString(result.Answer)
	fmt.Fprintf(&b, "\n\n**Confidence:** %d/100\n", result.Confidence)

	if len(result.Sources) > 0 {
		b.WriteString("\n**Sources:**\n")
		for _, src := range result.Sources {
			fmt.Fprintf(&b, "- [%s](%s) (%s)\n", sourceTitle(src.Title, src.URL), src.URL, src.Type)
		}
	}
	if len(result.SuggestedQueries) > 0 {
		b.WriteString("\n**Try searching for:**\n")
		for _, q := range result.SuggestedQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(result.RelatedQueries) > 0 {
		b.WriteString("\n**Related questions:**\n")
		for _, q := range result.RelatedQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(result.Warnings) > 0 {
		b.WriteString("\n**Warnings:**\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func formatResults(query string, results []domain.ScoredResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No documentation found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Results for %q (%d)\n", query, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "\n## %d. %s\n", i+1, sourceTitle(r.Chunk.Title, r.Chunk.URL))
		fmt.Fprintf(&b, "%s | %s | score %.3f\n", r.Chunk.URL, r.Chunk.ContentType, r.Score)
		if r.Chunk.Section != "" {
			fmt.Fprintf(&b, "Section: %s\n", r.Chunk.Section)
		}
		fmt.Fprintf(&b, "\n%s\n", preview(r.Chunk.Content))
	}
	return b.String()
}

func sourceTitle(title, url string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	return url
}

func preview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= previewRunes {
		return string(runes)
	}
	return string(runes[:previewRunes]) + "..."
}
