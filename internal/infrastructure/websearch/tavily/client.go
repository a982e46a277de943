package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.tavily.com"

type Client struct {
	baseURL    string
	apiKey     string
	depth      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithSearchDepth selects "basic" or "advanced" search.
func WithSearchDepth(depth string) Option {
	return func(c *Client) { c.depth = depth }
}

func New(apiKey string, executor *resilience.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		depth:      "basic",
		httpClient: &http.Client{Timeout: 20 * time.Second},
		executor:   executor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search implements ports.WebSearchClient.
func (c *Client) Search(ctx context.Context, query string, opts domain.WebSearchOptions) (domain.WebSearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.WebSearchResponse{}, domain.WrapError(domain.ErrInvalidInput, "tavily search", errors.New("query is required"))
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	payload := searchRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   c.depth,
		MaxResults:    maxResults,
		IncludeAnswer: opts.IncludeAnswer,
	}

	var resp searchResponse
	err := c.executor.Execute(ctx, "tavily.search", func(callCtx context.Context) error {
		return c.post(callCtx, "/search", payload, &resp)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return domain.WebSearchResponse{}, wrapError(err)
	}

	out := domain.WebSearchResponse{Answer: resp.Answer, Results: make([]domain.WebResult, 0, len(resp.Results))}
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		out.Results = append(out.Results, domain.WebResult{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("tavily", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tavily response: %w", err)
	}
	return nil
}

func wrapError(err error) error {
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
		return domain.WrapError(domain.ErrUnauthorized, "tavily search", err)
	}
	if resilience.IsTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, "tavily search", err)
	}
	return fmt.Errorf("tavily search: %w", err)
}
