// Package adapter defines the capability contract every tool adapter must
// satisfy, and the descriptor type the registry aggregates.
package adapter

import (
	"context"
	"encoding/json"
)

// ToolDescriptor describes one tool an adapter advertises. Descriptors are
// immutable: created when the adapter registers, destroyed when it unloads.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	// Consequential marks tools with real-world side effects. Calls to such
	// tools are intercepted at the registry boundary and suspended until a
	// human approves them; the adapter itself never learns about suspension.
	Consequential bool `json:"consequential"`

	// EventSource and EventKey, when set, declare that a suspension of this
	// tool resolves via an external event rather than a direct human
	// decision: EventKey names the argument whose value identifies the
	// business object, and EventSource names the webhook source that will
	// deliver the matching signal.
	EventSource string `json:"event_source,omitempty"`
	EventKey    string `json:"event_key,omitempty"`

	// AdapterID is filled in by the registry at registration time.
	AdapterID string `json:"adapter_id,omitempty"`
}

// ExecRequest is one tool execution delivered to an adapter.
type ExecRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// UserID is the human the call is attributed to. Adapters resolve
	// provider credentials for this user through their CredentialSource.
	UserID string `json:"user_id"`

	// CorrelationID is set when the execution is the resumption of a
	// previously suspended call.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Adapter is the contract all adapters must fulfill.
type Adapter interface {
	// Tools returns the tools this adapter advertises.
	Tools(ctx context.Context) ([]ToolDescriptor, error)

	// Execute runs the named tool and returns its JSON output. Errors are
	// reported, never panicked; the host contains panics regardless.
	Execute(ctx context.Context, req ExecRequest) (json.RawMessage, error)
}

// CredentialSource is the user-scoped credential accessor injected into
// adapters at construction. It resolves to a live access token only at the
// moment of outbound use; refresh tokens are never exposed through it.
type CredentialSource interface {
	Token(ctx context.Context, userID, provider string) (string, error)
}
