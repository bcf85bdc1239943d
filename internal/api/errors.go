// Package api provides the HTTP handlers of the spotstr daemon.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/spotstr/internal/middleware"
)

// Error codes returned in ErrorResponse.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnavailable indicates the feature is not configured.
	ErrCodeUnavailable = "unavailable"

	ErrCodeInvalidGeohash  = "invalid_geohash"
	ErrCodeInvalidKey      = "invalid_key"
	ErrCodeInvalidExpiry   = "invalid_expiry"
	ErrCodePublishFailed   = "publish_failed"
	ErrCodeNoRelays        = "no_relays"
	ErrCodeNoPosition      = "no_position"
	ErrCodeUnknownReceiver = "unknown_receiver"
	ErrCodeNoFollowList    = "no_follow_list"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records code for
// the logging middleware.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(w, code)
	writeJSON(w, ctx, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	writeJSON(w, ctx, status, v)
}

func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// StatusCodeMapping returns the recommended HTTP status code for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidGeohash,
		ErrCodeInvalidKey, ErrCodeInvalidExpiry:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeNoPosition:
		return http.StatusConflict
	case ErrCodeUnavailable, ErrCodeNoRelays:
		return http.StatusServiceUnavailable
	case ErrCodePublishFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
