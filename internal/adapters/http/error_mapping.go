package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

type errorMapping struct {
	kind   error
	status int
	code   string
}

// Order matters: the first matching kind wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrTemporary, http.StatusServiceUnavailable, "temporarily_unavailable"},
	{domain.ErrNoBackend, http.StatusNotImplemented, "no_backend"},
}

// classifyError returns the status, a stable code for clients and whether the
// error text is safe to echo back.
func classifyError(err error) (int, string, bool) {
	for _, m := range errorMappings {
		if domain.IsKind(err, m.kind) {
			return m.status, m.code, true
		}
	}
	return http.StatusInternalServerError, "internal", false
}
