package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// apiError is the wire error format: {"code": int, "message": string}.
type apiError struct {
	status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return e.Message
}

func (e *apiError) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errs[0].Error()
		}
		return &apiError{
			status:  status,
			Code:    status,
			Message: msg,
		}
	}
}

// internalError wraps storage or other unexpected failures as a 500 without
// leaking internals to the client.
func internalError(err error) error {
	slog.Error("internal error", "error", err)
	return huma.NewError(http.StatusInternalServerError, "internal error")
}

// upstreamError reports a failed call to the identity provider as a 502, so
// callers can tell a provider outage apart from a local failure.
func upstreamError(msg string) error {
	return huma.NewError(http.StatusBadGateway, msg)
}

func notFound(msg string) error {
	return huma.NewError(http.StatusNotFound, msg)
}
