package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/services"
)

// Request validation errors raised by the handlers themselves.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMissingFile      = errors.New("missing csv file")
	ErrUnsupportedMedia = errors.New("unsupported content type")
)

// statusFor maps domain and request errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &maxErr), isBodyTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidYear),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrMissingFile),
		errors.Is(err, services.ErrDatasetNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrMissingColumn),
		errors.Is(err, ingest.ErrInvalidJSON),
		errors.Is(err, services.ErrNoRecords):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, services.ErrQueueUnavailable),
		errors.Is(err, services.ErrSnapshotsUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// isBodyTooLarge catches MaxBytesReader failures that mime/multipart
// returns without wrapping.
func isBodyTooLarge(err error) bool {
	return strings.Contains(err.Error(), "http: request body too large")
}
