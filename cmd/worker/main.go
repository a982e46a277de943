package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docs-answer-engine/internal/bootstrap"
	"github.com/kirillkom/docs-answer-engine/internal/config"
	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docs-answer-engine/internal/observability/logging"
	"github.com/kirillkom/docs-answer-engine/internal/observability/metrics"
)

const serviceName = "docs-worker"

// boundedAnswers caps each queued request with the process request timeout.
type boundedAnswers struct {
	inner   ports.AnswerService
	timeout time.Duration
}

func (b boundedAnswers) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.inner.Answer(ctx, req)
}

type requestObserver struct {
	metrics *metrics.WorkerMetrics
}

func (o requestObserver) StartRequest() { o.metrics.StartRequest() }

func (o requestObserver) FinishRequest(outcome string, elapsed time.Duration) {
	o.metrics.FinishRequest(serviceName, outcome, elapsed)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics.Registerer())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup: cfg.NATSQueueGroup,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("nats_connect_failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	var metricsServer *http.Server
	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", workerMetrics.Handler())
		metricsServer = &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker_metrics_failed", "error", err)
			}
		}()
	}

	service := boundedAnswers{inner: app.Answers, timeout: bootstrap.RequestTimeout(cfg)}
	err = queue.ServeAnswers(ctx, service, requestObserver{metrics: workerMetrics})
	if err != nil {
		logger.Error("worker_serve_failed", "error", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
