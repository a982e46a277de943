package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/observability/metrics"
)

type fakeAnswers struct {
	got    domain.AnswerRequest
	result *domain.AnswerResult
	err    error
}

func (f *fakeAnswers) Answer(_ context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.AnswerResult{Answer: "ok", Confidence: 80}, nil
}

type fakeSearch struct {
	got     domain.SearchOptions
	results []domain.ScoredResult
	err     error
}

func (f *fakeSearch) Search(_ context.Context, _ string, opts domain.SearchOptions) ([]domain.ScoredResult, error) {
	f.got = opts
	return f.results, f.err
}

func newTestHandler(cfg RouterConfig, answers *fakeAnswers, search *fakeSearch) http.Handler {
	if answers == nil {
		answers = &fakeAnswers{}
	}
	if search == nil {
		search = &fakeSearch{}
	}
	return NewRouter(cfg, answers, search, metrics.NewHTTPServerMetrics("api"), nil).Handler()
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerAppliesDefaultAgenticMode(t *testing.T) {
	answers := &fakeAnswers{}
	handler := newTestHandler(RouterConfig{DefaultAgentic: true}, answers, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": " how do retries work? ", "project": "mina"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !answers.got.Options.UseAgenticEvaluation || answers.got.Question != "how do retries work?" {
		t.Fatalf("unexpected request %+v", answers.got)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	res = postJSON(t, handler, "/v1/answer", map[string]any{"question": "q", "project": "mina", "use_agentic_evaluation": false})
	if res.Code != http.StatusOK || answers.got.Options.UseAgenticEvaluation {
		t.Fatalf("expected explicit false to win, got code %d request %+v", res.Code, answers.got)
	}
}

func TestAnswerValidatesRequest(t *testing.T) {
	handler := newTestHandler(RouterConfig{}, nil, nil)

	res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "", "project": "mina"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	var body errorResponse
	_ = json.NewDecoder(res.Body).Decode(&body)
	if !strings.Contains(body.Error, "question is required") {
		t.Fatalf("unexpected error message %q", body.Error)
	}

	res = postJSON(t, handler, "/v1/answer", map[string]any{"question": "q", "project": "mina", "max_tokens": 5})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for max_tokens below minimum, got %d", res.Code)
	}

	res = postJSON(t, handler, "/v1/answer", map[string]any{"question": "q", "project": "mina", "surprise": 1})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestAnswerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("bad query")), http.StatusBadRequest, "invalid_input"},
		{domain.WrapError(domain.ErrTemporary, "answer", errors.New("qdrant down")), http.StatusServiceUnavailable, "temporarily_unavailable"},
		{domain.WrapError(domain.ErrNoBackend, "answer", errors.New("no llm")), http.StatusNotImplemented, "no_backend"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		handler := newTestHandler(RouterConfig{}, &fakeAnswers{err: tc.err}, nil)
		res := postJSON(t, handler, "/v1/answer", map[string]any{"question": "q", "project": "mina"})
		if res.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != tc.code {
			t.Fatalf("error %v: expected code %q, got %q", tc.err, tc.code, body.Code)
		}
		if tc.want == http.StatusInternalServerError && strings.Contains(res.Body.String(), "boom") {
			t.Fatalf("expected internal error details to be hidden")
		}
	}
}

func TestSearchPassesOptions(t *testing.T) {
	search := &fakeSearch{}
	handler := newTestHandler(RouterConfig{DefaultLimit: 7}, nil, search)

	res := postJSON(t, handler, "/v1/search", map[string]any{"query": "webhooks", "project": "mina", "content_type": "code", "mode": "fts"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if search.got.Limit != 7 || search.got.ContentType != domain.ContentTypeCode || search.got.Mode != domain.SearchModeFTS {
		t.Fatalf("unexpected options %+v", search.got)
	}
	var body map[string]any
	_ = json.NewDecoder(res.Body).Decode(&body)
	if results, ok := body["results"].([]any); !ok || len(results) != 0 {
		t.Fatalf("expected empty results array, got %v", body["results"])
	}

	res = postJSON(t, handler, "/v1/search", map[string]any{"query": "webhooks", "content_type": "video"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown content type, got %d", res.Code)
	}
}

func TestRoutesRejectWrongMethodAndUnknownPath(t *testing.T) {
	handler := newTestHandler(RouterConfig{}, nil, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/answer", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/unknown", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "docsqa_http_requests_total") {
		t.Fatalf("expected metrics exposition, got %d", res.Code)
	}
}
