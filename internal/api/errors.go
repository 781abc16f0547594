package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
)

// Error codes carried in the envelope's error field.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorised = "UNAUTHORISED"
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUpstream     = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes a failed envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{
		Success:   false,
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeUnauthorised writes a 401 error response.
func writeUnauthorised(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorised, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps a gateway error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, gateway.ErrAccessDenied):
		return http.StatusForbidden, ErrCodeAccessDenied
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, ErrCodeUpstream
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeGatewayError writes err as an envelope. The message is surfaced for
// every class; stack traces never are.
func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
	writeError(w, status, code, err.Error())
}
