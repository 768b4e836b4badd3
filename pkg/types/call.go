// Package types defines the canonical tool-call schema used across the gateway.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxArgumentsBytes = 64 * 1024 // 64 KB
	MaxToolNameBytes  = 256
	CurrentSchemaVer  = "1.0"
)

// ──────────────────────────────────────────────────────────────────────────────
// CallRequest — one tool invocation submitted by an AI agent.
// ──────────────────────────────────────────────────────────────────────────────

type CallRequest struct {
	// Action
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Identity — the human the agent acts on behalf of. Filled from the
	// authenticated API key when the request enters over HTTP.
	UserID string `json:"user_id"`

	// Metadata
	TraceID       string    `json:"trace_id,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	SchemaVersion string    `json:"schema_version"`
}

// Normalize lowercases and trims the tool name.
func (r *CallRequest) Normalize() {
	r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
}

// Validate enforces all invariants on the request. Also normalizes the tool name.
func (r *CallRequest) Validate() error {
	r.Normalize()

	if r.Tool == "" {
		return &ValidationError{Field: "tool", Reason: "required"}
	}
	if len(r.Tool) > MaxToolNameBytes {
		return &ValidationError{Field: "tool", Reason: fmt.Sprintf("exceeds %d bytes", MaxToolNameBytes)}
	}
	if r.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(r.Arguments) > MaxArgumentsBytes {
		return &ValidationError{Field: "arguments", Reason: fmt.Sprintf("exceeds %d bytes", MaxArgumentsBytes)}
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = CurrentSchemaVer
	} else if r.SchemaVersion != CurrentSchemaVer {
		return &ValidationError{Field: "schema_version", Reason: fmt.Sprintf("unsupported version %q, expected %q", r.SchemaVersion, CurrentSchemaVer)}
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CallOutcome — discriminated result of a tool call.
// ──────────────────────────────────────────────────────────────────────────────

type OutcomeStatus string

const (
	// StatusOK means the tool ran synchronously and produced output.
	StatusOK OutcomeStatus = "ok"
	// StatusError means the call failed synchronously; Err carries the code.
	StatusError OutcomeStatus = "error"
	// StatusSuspended means the call was parked pending human approval or an
	// external event; CorrelationID links it to the eventual signal.
	StatusSuspended OutcomeStatus = "suspended"
)

type CallOutcome struct {
	Status        OutcomeStatus   `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Err           *Error          `json:"error,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
}

// OK builds a success outcome.
func OK(output json.RawMessage) CallOutcome {
	return CallOutcome{Status: StatusOK, Output: output}
}

// Failed builds an error outcome from a typed gateway error.
func Failed(err *Error) CallOutcome {
	return CallOutcome{Status: StatusError, Err: err}
}

// SuspendedMessage is the marker the agent sees instead of tool output when
// a call is parked for approval.
const SuspendedMessage = "Action suspended: Human approval required"

// Suspended builds the parked-pending-approval outcome.
func Suspended(correlationID string) CallOutcome {
	return CallOutcome{
		Status:        StatusSuspended,
		Output:        json.RawMessage(`{"message":"` + SuspendedMessage + `"}`),
		CorrelationID: correlationID,
	}
}
