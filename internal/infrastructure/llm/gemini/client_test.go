package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(context.Background(), Config{
		APIKey:     "test-key",
		Model:      "gemini-test",
		EmbedModel: "embed-test",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestSynthesizeReadsFirstTextCandidate(t *testing.T) {
	var payload map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-test:generateContent") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":" retries back off "}]}}]}`))
	})

	got, err := client.Synthesize(context.Background(), "be precise", "how do retries work?", domain.CompletionOptions{MaxTokens: 128})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got != "retries back off" {
		t.Fatalf("unexpected answer %q", got)
	}
	if _, ok := payload["systemInstruction"]; !ok {
		t.Fatalf("expected system instruction in payload %v", payload)
	}
}

func TestSynthesizeMapsUnavailableToTemporary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	})

	_, err := client.Synthesize(context.Background(), "", "q", domain.CompletionOptions{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{Model: "m"}, nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
