package gateway

import (
	"encoding/json"
	"net/http"
)

// Error codes shared by every error response the gateway emits.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeBadGateway          = "BAD_GATEWAY"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout      = "GATEWAY_TIMEOUT"
	CodeInvalidTenant       = "INVALID_TENANT"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeIdempotencyConflict = "IDEMPOTENCY_KEY_CONFLICT"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          CodeBadRequest,
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeForbidden,
	http.StatusNotFound:            CodeNotFound,
	http.StatusMethodNotAllowed:    CodeMethodNotAllowed,
	http.StatusConflict:            CodeConflict,
	http.StatusUnprocessableEntity: CodeValidationError,
	http.StatusTooManyRequests:     CodeRateLimited,
	http.StatusInternalServerError: CodeInternalError,
	http.StatusBadGateway:          CodeBadGateway,
	http.StatusServiceUnavailable:  CodeServiceUnavailable,
	http.StatusGatewayTimeout:      CodeGatewayTimeout,
}

// CodeForStatus maps an HTTP status to its machine-readable error code.
func CodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return CodeInternalError
}

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	TraceID string         `json:"trace_id"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError emits a structured error response carrying the request's trace id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if code == "" {
		code = CodeForStatus(status)
	}
	envelope := ErrorEnvelope{
		Code:    code,
		Message: message,
		TraceID: TraceID(r.Context()),
		Details: details,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

// WriteJSON emits a success payload.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
