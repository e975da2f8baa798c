package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/services"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/datasets/1").
		Body(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Location") != "/api/datasets/1" {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"n":1}` {
		t.Errorf("body = %q", got)
	}
}

func TestJSONResponseBuilder_UnencodableBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(make(chan int)).Write(w)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequestError(`bad "input"`).Write(w)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"error":"bad \"input\""}` {
		t.Errorf("body = %s", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("dataset x: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrInvalidMonth, http.StatusBadRequest},
		{fmt.Errorf("%w: limit", ErrInvalidParameter), http.StatusBadRequest},
		{services.ErrDatasetNameRequired, http.StatusBadRequest},
		{fmt.Errorf("parse csv: %w", ingest.ErrMissingColumn), http.StatusUnprocessableEntity},
		{services.ErrNoRecords, http.StatusUnprocessableEntity},
		{services.ErrReadOnly, http.StatusMethodNotAllowed},
		{services.ErrQueueUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("read csv: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
		{errors.New("multipart: http: request body too large"), http.StatusRequestEntityTooLarge},
		{ErrUnsupportedMedia, http.StatusUnsupportedMediaType},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("secret dsn"))
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("internal detail leaked: %s", w.Body)
	}
}
