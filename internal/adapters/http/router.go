package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
	"github.com/kirillkom/docs-answer-engine/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

type RouterConfig struct {
	// DefaultAgentic applies when a request omits use_agentic_evaluation.
	DefaultAgentic bool
	DefaultLimit   int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	RequestTimeout time.Duration
}

type Router struct {
	answers  ports.AnswerService
	search   ports.SearchService
	cfg      RouterConfig
	logger   *slog.Logger
	metrics  *metrics.HTTPServerMetrics
	validate *validator.Validate
}

func NewRouter(
	cfg RouterConfig,
	answers ports.AnswerService,
	search ports.SearchService,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 250 * time.Millisecond
	}
	return &Router{
		answers:  answers,
		search:   search,
		cfg:      cfg,
		logger:   logger.With("component", "http"),
		metrics:  httpMetrics,
		validate: newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func (rt *Router) Handler() http.Handler {
	var api http.Handler = http.HandlerFunc(rt.routeAPI)

	var onRateLimited, onOverloaded func()
	if rt.metrics != nil {
		onRateLimited = func() { rt.metrics.RecordRejected(serviceName, "rate_limit") }
		onOverloaded = func() { rt.metrics.RecordRejected(serviceName, "backpressure") }
	}
	api = backpressureWithReject(api, rt.cfg.MaxInFlight, rt.cfg.QueueWait, onOverloaded)
	if rt.cfg.RateLimitRPS > 0 {
		burst := rt.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		api = rateLimitMiddleware(api, rate.NewLimiter(rate.Limit(rt.cfg.RateLimitRPS), burst), onRateLimited)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("/v1/", api)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) routeAPI(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/answer":
		rt.onlyPost(rt.answer)(w, r)
	case "/v1/search":
		rt.onlyPost(rt.searchDocs)(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	}
}

func (rt *Router) onlyPost(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		next(w, r)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type answerRequest struct {
	Question             string `json:"question" validate:"required,max=4000"`
	Project              string `json:"project" validate:"required,max=200"`
	UseAgenticEvaluation *bool  `json:"use_agentic_evaluation"`
	MaxTokens            int    `json:"max_tokens" validate:"omitempty,min=64,max=8192"`
}

type searchRequest struct {
	Query       string `json:"query" validate:"required,max=2000"`
	Project     string `json:"project" validate:"max=200"`
	Limit       int    `json:"limit" validate:"omitempty,min=1,max=50"`
	ContentType string `json:"content_type" validate:"omitempty,oneof=prose code api-reference"`
	Mode        string `json:"mode" validate:"omitempty,oneof=hybrid vector fts"`
	Rerank      bool   `json:"rerank"`
}

type searchResponse struct {
	Results []domain.ScoredResult `json:"results"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !rt.decode(w, r, &req) {
		return
	}

	agentic := rt.cfg.DefaultAgentic
	if req.UseAgenticEvaluation != nil {
		agentic = *req.UseAgenticEvaluation
	}

	ctx := r.Context()
	if rt.cfg.RequestTimeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := rt.answers.Answer(ctx, domain.AnswerRequest{
		Question: strings.TrimSpace(req.Question),
		Project:  strings.TrimSpace(req.Project),
		Options: domain.AnswerOptions{
			UseAgenticEvaluation: agentic,
			MaxTokens:            req.MaxTokens,
		},
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) searchDocs(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !rt.decode(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = rt.cfg.DefaultLimit
	}

	results, err := rt.search.Search(r.Context(), strings.TrimSpace(req.Query), domain.SearchOptions{
		Limit:       limit,
		Project:     strings.TrimSpace(req.Project),
		ContentType: domain.ContentType(req.ContentType),
		Mode:        domain.SearchMode(req.Mode),
		WithRerank:  req.Rerank,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []domain.ScoredResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// decode writes a 400 and returns false when the body is not a valid request.
func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error(), RequestID: requestIDFromContext(r.Context())})
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err), RequestID: requestIDFromContext(r.Context())})
		return false
	}
	return true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, expose := classifyError(err)
	requestID := requestIDFromContext(r.Context())
	message := err.Error()
	if !expose {
		rt.logger.Error("request_failed", "request_id", requestID, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code, RequestID: requestID})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s violates %s=%s", field, fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
