package ollama

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

// call posts through the executor and maps failures onto domain kinds.
func (c *Client) call(ctx context.Context, operation, path string, payload any, out any) error {
	err := c.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, payload, out, operation)
	}, resilience.ClassifyHTTPError)
	return wrapError(operation, err)
}

func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrNotFound) {
		return err
	}
	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		// Ollama answers 404 for a model that has not been pulled.
		return domain.WrapError(domain.ErrNotFound, operation, err)
	}
	if resilience.IsTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
