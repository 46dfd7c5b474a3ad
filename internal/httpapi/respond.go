package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/safar/go-ticket-store/internal/database"
)

const (
	actorHeader    = "X-User-ID"
	maxRequestBody = 64 * 1024
)

type actorKey struct{}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// requireActor rejects requests without a numeric X-User-ID and stores the id in the context.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(actorHeader)), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Code: "UNAUTHENTICATED", Message: "X-User-ID header is required"}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, id)))
	})
}

func actorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, database.ErrInvalidInput.WithMessage("%s must be a positive integer", name)
	}
	return id, nil
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return database.ErrInvalidInput.WithMessage("invalid request body: %v", err)
	}
	return nil
}

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(err error) int {
	if errors.Is(err, database.ErrForbidden) {
		return http.StatusForbidden
	}
	switch database.KindOf(err) {
	case database.KindValidation:
		return http.StatusBadRequest
	case database.KindNotFound:
		return http.StatusNotFound
	case database.KindConflict:
		return http.StatusConflict
	case database.KindRetryable:
		return http.StatusServiceUnavailable
	case database.KindDependencyDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Code: database.CodeOf(err), Message: err.Error()}

	switch database.KindOf(err) {
	case database.KindRetryable:
		detail.Retryable = true
		w.Header().Set("Retry-After", "1")
	case database.KindInternal:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		detail.Message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
