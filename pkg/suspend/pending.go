// Package suspend implements the suspension/resume engine: consequential
// tool calls are parked here, correlated with a later approval or external
// event, and resumed exactly once.
package suspend

import (
	"context"
	"encoding/json"
	"time"
)

// State of a pending call. PENDING is the only state that accepts decisions;
// RESUMED is terminal and one-way, which is what enforces at-most-once
// execution no matter how many times a signal is redelivered.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateExpired  State = "expired"
	StateResumed  State = "resumed"
)

// Outcome of a human (or source-synthesized) decision.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// PendingCall is one suspended invocation. Owned exclusively by the Engine;
// mutated only through its defined transitions.
type PendingCall struct {
	CorrelationID string          `json:"correlation_id"`
	Tool          string          `json:"tool"`
	AdapterID     string          `json:"adapter_id"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	UserID        string          `json:"user_id"`

	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`

	DecidedBy  string     `json:"decided_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	DenyReason string     `json:"deny_reason,omitempty"`
	ResumedAt  *time.Time `json:"resumed_at,omitempty"`

	// EventSource/EventKey are set when the suspension resolves via an
	// external event rather than a direct human decision; the correlator
	// indexes the pair back to this correlation id.
	EventSource string `json:"event_source,omitempty"`
	EventKey    string `json:"event_key,omitempty"`

	// Result and ExecError record the dispatch outcome after resume, kept
	// for archival.
	Result    json.RawMessage `json:"result,omitempty"`
	ExecError string          `json:"exec_error,omitempty"`
}

// Terminal reports whether no further transition can occur.
func (c *PendingCall) Terminal() bool {
	switch c.State {
	case StateDenied, StateExpired, StateResumed:
		return true
	}
	return false
}

// Journal durably records every pending-call state so suspensions survive a
// crash or restart. Implementations must be safe for concurrent use.
type Journal interface {
	// Record upserts the call's current state.
	Record(ctx context.Context, call *PendingCall) error
	// LoadOpen returns all calls that still accept transitions
	// (PENDING and APPROVED).
	LoadOpen(ctx context.Context) ([]*PendingCall, error)
}

// NopJournal discards records; used when durability is not configured.
type NopJournal struct{}

func (NopJournal) Record(context.Context, *PendingCall) error { return nil }

func (NopJournal) LoadOpen(context.Context) ([]*PendingCall, error) { return nil, nil }
