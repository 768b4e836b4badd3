package types

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (returned during request parsing)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// Error — structured error returned to callers. Codes are stable; clients
// branch on Code, not on Message.
// ──────────────────────────────────────────────────────────────────────────────

type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	code := e.HTTPCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(e)
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry errors
// ──────────────────────────────────────────────────────────────────────────────

// ErrDuplicateToolName is returned when two adapters declare the same tool.
// Collisions are rejected outright so one adapter cannot shadow another's tool.
func ErrDuplicateToolName(tool, adapterID string) *Error {
	return &Error{
		Code:     "DUPLICATE_TOOL_NAME",
		Message:  fmt.Sprintf("tool %q is already registered by another adapter (rejected for %s)", tool, adapterID),
		HTTPCode: http.StatusConflict,
	}
}

func ErrUnknownTool(tool string) *Error {
	return &Error{
		Code:     "UNKNOWN_TOOL",
		Message:  fmt.Sprintf("no tool named %q is registered", tool),
		HTTPCode: http.StatusNotFound,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Adapter host errors
// ──────────────────────────────────────────────────────────────────────────────

func ErrUnsafePluginPath(path string) *Error {
	return &Error{
		Code:     "UNSAFE_PLUGIN_PATH",
		Message:  fmt.Sprintf("adapter path %q resolves outside the safe root", path),
		HTTPCode: http.StatusUnprocessableEntity,
	}
}

func ErrInvalidAdapter(adapterID, reason string) *Error {
	return &Error{
		Code:     "INVALID_ADAPTER",
		Message:  fmt.Sprintf("adapter %s does not satisfy the capability contract: %s", adapterID, reason),
		HTTPCode: http.StatusUnprocessableEntity,
	}
}

// ErrAdapterExecution reports a fault contained at an adapter's isolation
// boundary. It always carries the adapter id and never crashes the host.
func ErrAdapterExecution(adapterID, tool, detail string) *Error {
	return &Error{
		Code:     "ADAPTER_EXECUTION_ERROR",
		Message:  fmt.Sprintf("adapter %s failed executing %s: %s", adapterID, tool, detail),
		Details:  map[string]string{"adapter_id": adapterID, "tool": tool},
		HTTPCode: http.StatusBadGateway,
	}
}

func ErrAdapterUnavailable(adapterID string) *Error {
	return &Error{
		Code:     "ADAPTER_UNAVAILABLE",
		Message:  fmt.Sprintf("adapter %s is not loaded", adapterID),
		HTTPCode: http.StatusConflict,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Suspension-state errors
// ──────────────────────────────────────────────────────────────────────────────

func ErrUnknownCorrelation(correlationID string) *Error {
	return &Error{
		Code:     "UNKNOWN_CORRELATION",
		Message:  fmt.Sprintf("no pending call for correlation id %s", correlationID),
		HTTPCode: http.StatusNotFound,
	}
}

// ErrAlreadyDecided rejects duplicate decision signals. The rejection is what
// keeps redelivered approvals from executing a call twice.
func ErrAlreadyDecided(correlationID, state string) *Error {
	return &Error{
		Code:     "ALREADY_DECIDED",
		Message:  fmt.Sprintf("call %s is %s and cannot be decided again", correlationID, state),
		Details:  map[string]string{"state": state},
		HTTPCode: http.StatusConflict,
	}
}

func ErrNotApproved(correlationID, state string) *Error {
	return &Error{
		Code:     "NOT_APPROVED",
		Message:  fmt.Sprintf("call %s is %s; only approved calls can be resumed", correlationID, state),
		Details:  map[string]string{"state": state},
		HTTPCode: http.StatusConflict,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Credential errors — distinct from generic execution errors because the
// remediation (re-authorization) differs.
// ──────────────────────────────────────────────────────────────────────────────

func ErrNoCredential(userID, provider string) *Error {
	return &Error{
		Code:     "NO_CREDENTIAL",
		Message:  fmt.Sprintf("user %s has not authorized provider %s", userID, provider),
		HTTPCode: http.StatusForbidden,
	}
}

func ErrRefreshFailed(provider, detail string) *Error {
	return &Error{
		Code:     "REFRESH_FAILED",
		Message:  fmt.Sprintf("provider %s rejected the token refresh: %s", provider, detail),
		HTTPCode: http.StatusForbidden,
	}
}

func ErrExchangeRejected(provider, detail string) *Error {
	return &Error{
		Code:     "EXCHANGE_REJECTED",
		Message:  fmt.Sprintf("provider %s rejected the identity exchange: %s", provider, detail),
		HTTPCode: http.StatusForbidden,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Event correlation errors
// ──────────────────────────────────────────────────────────────────────────────

// ErrInvalidSignature fails closed: unverified payloads are never routed.
func ErrInvalidSignature(source string) *Error {
	return &Error{
		Code:     "INVALID_SIGNATURE",
		Message:  fmt.Sprintf("signature verification failed for source %s", source),
		HTTPCode: http.StatusUnauthorized,
	}
}

func ErrNoMatchingSuspension(source, key string) *Error {
	return &Error{
		Code:     "NO_MATCHING_SUSPENSION",
		Message:  fmt.Sprintf("source %s delivered key %q with no recorded suspension", source, key),
		HTTPCode: http.StatusNotFound,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Generic HTTP-surface errors
// ──────────────────────────────────────────────────────────────────────────────

func ErrBadRequest(msg string) *Error {
	return &Error{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrValidation(err error) *Error {
	return &Error{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPCode: http.StatusUnprocessableEntity}
}

func ErrUnauthorized(msg string) *Error {
	return &Error{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrForbidden(msg string) *Error {
	return &Error{Code: "FORBIDDEN", Message: msg, HTTPCode: http.StatusForbidden}
}

func ErrNotFound(msg string) *Error {
	return &Error{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrInternal(msg string) *Error {
	return &Error{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *Error {
	return &Error{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}

// AsError maps any error to a *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	if v, ok := err.(*ValidationError); ok {
		return ErrValidation(v)
	}
	return ErrInternal(err.Error())
}
