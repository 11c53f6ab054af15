// Package handler provides the HTTP/JSON adapter over the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tallyhq/tally/internal/handler/dto"
	"github.com/tallyhq/tally/internal/middleware"
	"github.com/tallyhq/tally/internal/service"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeWeakPassword     = "WEAK_PASSWORD"
	CodeDuplicateEmail   = "DUPLICATE_EMAIL"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeRequestCanceled  = "REQUEST_CANCELED"
	CodeInternal         = "INTERNAL_ERROR"
)

// NotFound handles 404 responses for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: code, Message: message},
	})
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, true)
}

// decodeIgnoringUnknown is decodeJSON for payloads whose extra fields are
// dropped, such as an owner id the caller has no say over.
func decodeIgnoringUnknown(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeBody(w, r, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}

	err := dec.Decode(dst)
	if err == nil {
		if _, extra := dec.Token(); extra != io.EOF {
			writeError(w, http.StatusBadRequest, CodeInvalidJSON, "request body must contain a single JSON object")
			return false
		}
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidArgument, err.Error())
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "request body is empty")
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, strings.TrimPrefix(err.Error(), "json: "))
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid request body")
	}
	return false
}

// writeServiceError maps a service error to its HTTP status.
// Messages of internal errors are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, CodeDuplicateEmail, "email is already registered")
	case errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, CodeWeakPassword, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidArgument, err.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="tally"`)
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid or missing API key")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "expense not found")
	case errors.Is(err, service.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "storage is temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, CodeRequestCanceled, "request canceled")
	default:
		logger.ErrorContext(r.Context(), "unhandled service error",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

func invalidArgument(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusUnprocessableEntity, CodeInvalidArgument, fmt.Sprintf(format, args...))
}
