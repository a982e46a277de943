package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

// Connection-level failures worth another attempt. ErrNoResponders shows up
// while workers are restarting and have not resubscribed yet.
var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrNoResponders,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func isTransientNATSError(err error) bool {
	for _, target := range transientNATSErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return resilience.IsCircuitOpen(err)
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; the broker is not at fault.
		return resilience.ErrorClassification{}
	case isTransientNATSError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || !isTransientNATSError(err) {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, "nats request", err)
}
