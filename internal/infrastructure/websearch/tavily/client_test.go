package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

func TestSearchMapsResults(t *testing.T) {
	var req searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"answer": "Use exponential backoff.",
			"results": [
				{"title": "Retry guide", "url": "https://blog.example.com/retry", "content": "Back off exponentially.", "score": 0.87, "published_date": "2026-03-01"},
				{"title": "No url", "url": "", "content": "dropped", "score": 0.5}
			]
		}`))
	}))
	defer server.Close()

	client := New("tvly-key", nil, WithBaseURL(server.URL), WithSearchDepth("advanced"))
	resp, err := client.Search(context.Background(), " webhook retries ", domain.WebSearchOptions{MaxResults: 3, IncludeAnswer: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if req.APIKey != "tvly-key" || req.Query != "webhook retries" || req.MaxResults != 3 || !req.IncludeAnswer || req.SearchDepth != "advanced" {
		t.Fatalf("unexpected request %+v", req)
	}
	if resp.Answer != "Use exponential backoff." {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if len(resp.Results) != 1 || resp.Results[0].PublishedDate != "2026-03-01" || resp.Results[0].Score != 0.87 {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	_, err := New("k", nil).Search(context.Background(), "  ", domain.WebSearchOptions{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSearchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"t","url":"https://x.example.com","content":"c","score":0.4}]}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
	}, nil)
	resp, err := New("k", executor, WithBaseURL(server.URL)).Search(context.Background(), "q", domain.WebSearchOptions{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, calls=%d results=%d", calls, len(resp.Results))
	}
}

func TestSearchMapsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := New("bad", nil, WithBaseURL(server.URL)).Search(context.Background(), "q", domain.WebSearchOptions{})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
