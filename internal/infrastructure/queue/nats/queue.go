package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

// Queue carries answer requests over NATS request/reply. Workers share a
// queue group so each request is answered once.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	group := options.QueueGroup
	if group == "" {
		group = "answer-workers"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "nats")

	conn, err := nats.Connect(
		url,
		nats.Name("docs-answer-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// RequestAnswer sends req to a worker and waits for its reply until ctx ends.
func (q *Queue) RequestAnswer(ctx context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal answer request: %w", err)
	}

	var reply *nats.Msg
	err = q.executor.Execute(ctx, "nats.request", func(callCtx context.Context) error {
		var callErr error
		reply, callErr = q.conn.RequestWithContext(callCtx, q.subject, data)
		if callErr != nil {
			return fmt.Errorf("nats request: %w", callErr)
		}
		return nil
	}, classifyNATSError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(reply.Data)
}

// RequestObserver tracks answer requests handled by ServeAnswers. Outcome is
// "ok" or the error kind of the reply.
type RequestObserver interface {
	StartRequest()
	FinishRequest(outcome string, elapsed time.Duration)
}

// ServeAnswers answers requests with service until ctx is cancelled, then drains.
// observer may be nil.
func (q *Queue) ServeAnswers(ctx context.Context, service ports.AnswerService, observer RequestObserver) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		if observer != nil {
			observer.StartRequest()
		}
		started := time.Now()
		data, outcome := handleRequest(ctx, service, msg.Data)
		if observer != nil {
			observer.FinishRequest(outcome, time.Since(started))
		}
		if outcome != "ok" {
			q.logger.Warn("answer_request_failed", "outcome", outcome)
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			q.logger.Error("answer_reply_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("answer_worker_subscribed", "subject", q.subject, "group", q.group)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

type replyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type replyEnvelope struct {
	Result *domain.AnswerResult `json:"result,omitempty"`
	Error  *replyError          `json:"error,omitempty"`
}

func handleRequest(ctx context.Context, service ports.AnswerService, data []byte) ([]byte, string) {
	var req domain.AnswerRequest
	var env replyEnvelope
	if err := json.Unmarshal(data, &req); err != nil {
		env.Error = &replyError{Kind: kindInvalidInput, Message: "malformed answer request: " + err.Error()}
	} else if result, err := service.Answer(ctx, req); err != nil {
		env.Error = &replyError{Kind: errorKind(err), Message: err.Error()}
	} else {
		env.Result = result
	}

	outcome := "ok"
	if env.Error != nil {
		outcome = env.Error.Kind
	}
	out, err := json.Marshal(env)
	if err != nil {
		out, _ = json.Marshal(replyEnvelope{Error: &replyError{Kind: kindInternal, Message: err.Error()}})
		outcome = kindInternal
	}
	return out, outcome
}

func decodeReply(data []byte) (*domain.AnswerResult, error) {
	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode answer reply: %w", err)
	}
	if env.Error != nil {
		err := errors.New(env.Error.Message)
		if kind := kindError(env.Error.Kind); kind != nil {
			return nil, domain.WrapError(kind, "answer worker", err)
		}
		return nil, fmt.Errorf("answer worker: %w", err)
	}
	if env.Result == nil {
		return nil, errors.New("answer worker returned an empty reply")
	}
	return env.Result, nil
}

const (
	kindInvalidInput = "invalid_input"
	kindNotFound     = "not_found"
	kindUnauthorized = "unauthorized"
	kindTemporary    = "temporary"
	kindNoBackend    = "no_backend"
	kindInternal     = "internal"
)

var errorKinds = []struct {
	name string
	err  error
}{
	{kindInvalidInput, domain.ErrInvalidInput},
	{kindNotFound, domain.ErrNotFound},
	{kindUnauthorized, domain.ErrUnauthorized},
	{kindTemporary, domain.ErrTemporary},
	{kindNoBackend, domain.ErrNoBackend},
}

func errorKind(err error) string {
	for _, k := range errorKinds {
		if domain.IsKind(err, k.err) {
			return k.name
		}
	}
	return kindInternal
}

func kindError(name string) error {
	for _, k := range errorKinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}
