package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
)

// Generic error codes.
const (
	CodeInternal     = "internal_error"
	CodeInvalidJSON  = "invalid_json"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Code    string
	Message string // if empty, uses err.Error()
}

// HandleError maps a domain error to an HTTP response using provided mappings.
// If no mapping matches, logs the error and returns 500 Internal Server Error.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			if m.Status >= http.StatusInternalServerError {
				ctxlog.FromContext(ctx).Error("request failed", "code", m.Code, "error", err)
			}
			Error(w, m.Status, m.Code, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
