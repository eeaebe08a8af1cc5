// Package respond writes JSON payloads and maps failure kinds to HTTP
// statuses for the API handlers.
package respond

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"curetrack/processing/failure"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the payload of every failed request.
type ErrorBody struct {
	Code      failure.Kind `json:"code"`
	Message   string       `json:"message"`
	RequestID string       `json:"requestId,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind failure.Kind) int {
	switch kind {
	case failure.NotFound:
		return http.StatusNotFound
	case failure.Unauthorized:
		return http.StatusForbidden
	case failure.ValidationError, failure.InvalidQuery:
		return http.StatusBadRequest
	case failure.InvalidSelection, failure.InvalidQuantity, failure.InsufficientQuantity:
		return http.StatusUnprocessableEntity
	case failure.InvalidTransition, failure.InvalidState, failure.AlreadyFinalized, failure.DuplicateDay:
		return http.StatusConflict
	case failure.CodeGenerationExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorBody. Storage details stay in the log.
func Error(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := failure.KindOf(err)
	status := StatusFor(kind)
	reqID := middleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", reqID),
			zap.String("code", string(kind)),
			zap.Error(err))
	}
	JSON(w, status, ErrorBody{Code: kind, Message: failure.PublicMessage(err), RequestID: reqID})
}

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return failure.New(failure.ValidationError, "request body is required")
		}
		return failure.New(failure.ValidationError, "invalid request body: %v", err)
	}
	return nil
}

// IDParam parses the chi URL parameter name as a positive id.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, failure.New(failure.ValidationError, "invalid %s", name)
	}
	return id, nil
}

// IntQuery parses an optional integer query parameter.
func IntQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, failure.New(failure.InvalidQuery, "%s must be a number", name)
	}
	return n, nil
}

func Unauthenticated(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, ErrorBody{Code: "UNAUTHENTICATED", Message: "login required"})
}
