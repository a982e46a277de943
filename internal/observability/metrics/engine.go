package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

const namespace = "docsqa"

// EngineMetrics implements ports.AnswerMetrics and observes outbound dependencies.
type EngineMetrics struct {
	answersTotal       *prometheus.CounterVec
	answerDuration     *prometheus.HistogramVec
	confidence         *prometheus.HistogramVec
	iterations         prometheus.Histogram
	actionsTotal       *prometheus.CounterVec
	llmCalls           prometheus.Histogram
	docQueries         prometheus.Histogram
	webSearches        prometheus.Histogram
	correctiveRetries  *prometheus.CounterVec
	noResultsTotal     prometheus.Counter
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	embeddingCache     *prometheus.CounterVec
}

func NewEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		answersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "total",
			Help:      "Completed answers by query type and final evaluation state.",
		}, []string{"query_type", "state"}),
		answerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "End-to-end answer duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"state"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "confidence",
			Help:      "Distribution of final answer confidence scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100},
		}, []string{"query_type"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "iterations",
			Help:      "Evaluation loop steps per answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8},
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "actions_total",
			Help:      "Evaluation actions taken by type.",
		}, []string{"action"}),
		llmCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "llm_calls",
			Help:      "LLM calls per answer.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
		}),
		docQueries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "doc_queries",
			Help:      "Follow-up documentation queries per answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		webSearches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "web_searches",
			Help:      "Web searches per answer.",
			Buckets:   []float64{0, 1, 2, 3, 4},
		}),
		correctiveRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "corrective_retries_total",
			Help:      "Answers whose initial retrieval was retried, by initial quality.",
		}, []string{"initial_quality"}),
		noResultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "no_results_total",
			Help:      "Answers that found no documentation at all.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		}, []string{"operation"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker transitions per operation and target state.",
		}, []string{"operation", "to"}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding_cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
	}

	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	registerer.MustRegister(
		m.answersTotal,
		m.answerDuration,
		m.confidence,
		m.iterations,
		m.actionsTotal,
		m.llmCalls,
		m.docQueries,
		m.webSearches,
		m.correctiveRetries,
		m.noResultsTotal,
		m.breakerState,
		m.breakerTransitions,
		m.embeddingCache,
	)
	return m
}

func (m *EngineMetrics) ObserveAnswer(result *domain.AnswerResult, elapsed time.Duration) {
	if result == nil {
		return
	}
	queryType := string(result.QueryType)
	if queryType == "" {
		queryType = "unknown"
	}
	state := string(result.Trace.FinalState)

	m.answersTotal.WithLabelValues(queryType, state).Inc()
	m.answerDuration.WithLabelValues(state).Observe(elapsed.Seconds())
	m.confidence.WithLabelValues(queryType).Observe(float64(result.Confidence))
	m.iterations.Observe(float64(len(result.Trace.Steps)))
	for _, step := range result.Trace.Steps {
		m.actionsTotal.WithLabelValues(string(step.Action)).Inc()
	}

	usage := result.Trace.ResourcesUsed
	m.llmCalls.Observe(float64(usage.LLMCalls))
	m.docQueries.Observe(float64(usage.DocQueries))
	m.webSearches.Observe(float64(usage.WebSearches))

	if result.Corrective != nil && result.Corrective.WasRetried {
		m.correctiveRetries.WithLabelValues(string(result.Corrective.InitialQuality)).Inc()
	}
	if result.NoResults {
		m.noResultsTotal.Inc()
	}
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *EngineMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	var value float64
	switch to {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	m.breakerState.WithLabelValues(operation).Set(value)
	m.breakerTransitions.WithLabelValues(operation, to.String()).Inc()
}

func (m *EngineMetrics) ObserveEmbeddingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCache.WithLabelValues(result).Inc()
}
