package suspend

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/agentictrust/actiongate/pkg/types"
	"github.com/google/uuid"
)

const (
	defaultTTL       = 24 * time.Hour
	defaultRetention = time.Hour
)

// Dispatcher delivers a resumed call into the adapter host.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *PendingCall) (json.RawMessage, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, call *PendingCall) (json.RawMessage, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, call *PendingCall) (json.RawMessage, error) {
	return f(ctx, call)
}

// entry pairs a call with its own lock: transitions on one correlation id
// are serialized, operations on different ids never block each other.
type entry struct {
	mu   sync.Mutex
	call *PendingCall
}

// Engine is the suspension/resume state machine. The in-memory table is
// authoritative for live calls; every transition is journaled for restart
// recovery.
type Engine struct {
	journal  Journal
	dispatch Dispatcher
	log      *slog.Logger

	ttl       time.Duration // intercept-to-deadline window
	retention time.Duration // how long resolved calls stay queryable
	now       func() time.Time

	mu    sync.RWMutex
	table map[string]*entry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTTL sets the approval deadline window applied at intercept time.
func WithTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = d }
}

// WithRetention sets how long resolved calls stay in memory before Sweep
// evicts them.
func WithRetention(d time.Duration) EngineOption {
	return func(e *Engine) { e.retention = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. The dispatcher is invoked only from Resume.
func NewEngine(journal Journal, dispatch Dispatcher, log *slog.Logger, opts ...EngineOption) *Engine {
	if journal == nil {
		journal = NopJournal{}
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		journal:   journal,
		dispatch:  dispatch,
		log:       log,
		ttl:       defaultTTL,
		retention: defaultRetention,
		now:       func() time.Time { return time.Now().UTC() },
		table:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Restore reloads open calls from the journal after a restart.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	calls, err := e.journal.LoadOpen(ctx)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range calls {
		if _, exists := e.table[c.CorrelationID]; exists {
			continue
		}
		e.table[c.CorrelationID] = &entry{call: c}
	}
	return len(calls), nil
}

// RedriveApproved resumes every call sitting in APPROVED state. A crash
// between the decision journal write and the dispatch leaves the journal at
// APPROVED, and no later decide can move it off that state, so the gateway
// runs this once after Restore. Returns the number of calls resumed.
func (e *Engine) RedriveApproved(ctx context.Context) int {
	e.mu.RLock()
	ids := make([]string, 0, len(e.table))
	for id := range e.table {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var resumed int
	for _, id := range ids {
		ent, ok := e.lookup(id)
		if !ok {
			continue
		}
		ent.mu.Lock()
		approved := ent.call.State == StateApproved
		ent.mu.Unlock()
		if !approved {
			continue
		}
		if _, err := e.Resume(ctx, id); err != nil {
			e.log.ErrorContext(ctx, "redrive resume failed",
				"correlation_id", id, "error", err)
			continue
		}
		resumed++
	}
	return resumed
}

// InterceptInput carries what the engine records about a suspended call.
type InterceptInput struct {
	Tool        string
	AdapterID   string
	Arguments   json.RawMessage
	UserID      string
	EventSource string
	EventKey    string
}

// Intercept parks a consequential call and returns its correlation id. It
// never blocks waiting for approval: it returns as soon as the record is
// durably journaled.
func (e *Engine) Intercept(ctx context.Context, in InterceptInput) (*PendingCall, error) {
	now := e.now()
	call := &PendingCall{
		CorrelationID: uuid.NewString(),
		Tool:          in.Tool,
		AdapterID:     in.AdapterID,
		Arguments:     in.Arguments,
		UserID:        in.UserID,
		State:         StatePending,
		CreatedAt:     now,
		Deadline:      now.Add(e.ttl),
		EventSource:   in.EventSource,
		EventKey:      in.EventKey,
	}
	if err := e.journal.Record(ctx, call); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.table[call.CorrelationID] = &entry{call: call}
	e.mu.Unlock()

	e.log.InfoContext(ctx, "call suspended",
		"correlation_id", call.CorrelationID,
		"tool", call.Tool,
		"user_id", call.UserID,
		"deadline", call.Deadline,
	)
	return snapshot(call), nil
}

func (e *Engine) lookup(correlationID string) (*entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.table[correlationID]
	return ent, ok
}

// Decide transitions PENDING → APPROVED or PENDING → DENIED. A decision on
// a record that is not PENDING fails with ALREADY_DECIDED: duplicate signals
// are rejected, never replayed as a second execution.
func (e *Engine) Decide(ctx context.Context, correlationID string, outcome Outcome, decider, reason string) (*PendingCall, error) {
	ent, ok := e.lookup(correlationID)
	if !ok {
		return nil, types.ErrUnknownCorrelation(correlationID)
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	call := ent.call
	if call.State != StatePending {
		return nil, types.ErrAlreadyDecided(correlationID, string(call.State))
	}

	now := e.now()
	switch outcome {
	case OutcomeApproved:
		call.State = StateApproved
	case OutcomeDenied:
		call.State = StateDenied
		call.DenyReason = reason
	default:
		return nil, types.ErrBadRequest("outcome must be approved or denied")
	}
	call.DecidedBy = decider
	call.DecidedAt = &now

	if err := e.journal.Record(ctx, call); err != nil {
		// Roll the in-memory transition back so a journal outage does not
		// strand an undurable decision.
		call.State = StatePending
		call.DecidedBy = ""
		call.DecidedAt = nil
		call.DenyReason = ""
		return nil, err
	}

	e.log.InfoContext(ctx, "call decided",
		"correlation_id", correlationID,
		"outcome", string(outcome),
		"decided_by", decider,
	)
	return snapshot(call), nil
}

// Resume is valid only from APPROVED. The transition to RESUMED and the
// dispatch are one unit: the state flips first, and a dispatch failure
// leaves the record RESUMED so a retried decide/resume can never run the
// call twice. The failure is reported to the caller, not replayed.
func (e *Engine) Resume(ctx context.Context, correlationID string) (json.RawMessage, error) {
	ent, ok := e.lookup(correlationID)
	if !ok {
		return nil, types.ErrUnknownCorrelation(correlationID)
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	call := ent.call
	if call.State != StateApproved {
		return nil, types.ErrNotApproved(correlationID, string(call.State))
	}

	now := e.now()
	call.State = StateResumed
	call.ResumedAt = &now
	if err := e.journal.Record(ctx, call); err != nil {
		// The flip must be durable before the side effect runs; roll back
		// and report, the caller can retry once the journal recovers.
		call.State = StateApproved
		call.ResumedAt = nil
		return nil, err
	}

	out, err := e.dispatch.Dispatch(ctx, snapshot(call))
	if err != nil {
		call.ExecError = err.Error()
		if jerr := e.journal.Record(ctx, call); jerr != nil {
			e.log.ErrorContext(ctx, "resume journal write failed",
				"correlation_id", correlationID, "error", jerr)
		}
		e.log.ErrorContext(ctx, "resumed call dispatch failed",
			"correlation_id", correlationID,
			"tool", call.Tool,
			"error", err,
		)
		return nil, types.AsError(err)
	}

	call.Result = out
	if jerr := e.journal.Record(ctx, call); jerr != nil {
		e.log.ErrorContext(ctx, "resume journal write failed",
			"correlation_id", correlationID, "error", jerr)
	}
	e.log.InfoContext(ctx, "call resumed",
		"correlation_id", correlationID,
		"tool", call.Tool,
		"user_id", call.UserID,
	)
	return out, nil
}

// Sweep expires overdue PENDING calls and evicts resolved ones past the
// retention window. Safe to run concurrently with Decide: the per-id lock
// makes each transition atomic.
func (e *Engine) Sweep(ctx context.Context) (expired int) {
	now := e.now()

	e.mu.RLock()
	entries := make([]*entry, 0, len(e.table))
	for _, ent := range e.table {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	var evict []string
	for _, ent := range entries {
		ent.mu.Lock()
		call := ent.call
		switch {
		case call.State == StatePending && now.After(call.Deadline):
			call.State = StateExpired
			if err := e.journal.Record(ctx, call); err != nil {
				call.State = StatePending
				ent.mu.Unlock()
				e.log.ErrorContext(ctx, "sweep journal write failed",
					"correlation_id", call.CorrelationID, "error", err)
				continue
			}
			expired++
			e.log.InfoContext(ctx, "call expired",
				"correlation_id", call.CorrelationID,
				"tool", call.Tool,
			)
		case call.Terminal() && e.resolvedAt(call).Add(e.retention).Before(now):
			evict = append(evict, call.CorrelationID)
		}
		ent.mu.Unlock()
	}

	if len(evict) > 0 {
		e.mu.Lock()
		for _, id := range evict {
			delete(e.table, id)
		}
		e.mu.Unlock()
	}
	return expired
}

func (e *Engine) resolvedAt(call *PendingCall) time.Time {
	if call.ResumedAt != nil {
		return *call.ResumedAt
	}
	if call.DecidedAt != nil {
		return *call.DecidedAt
	}
	return call.Deadline
}

// Get returns a snapshot of one call.
func (e *Engine) Get(correlationID string) (*PendingCall, error) {
	ent, ok := e.lookup(correlationID)
	if !ok {
		return nil, types.ErrUnknownCorrelation(correlationID)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return snapshot(ent.call), nil
}

// ListPending returns snapshots of all calls still awaiting a decision,
// oldest first.
func (e *Engine) ListPending() []*PendingCall {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.table))
	for _, ent := range e.table {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	out := make([]*PendingCall, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.call.State == StatePending {
			out = append(out, snapshot(ent.call))
		}
		ent.mu.Unlock()
	}
	sortByCreation(out)
	return out
}

func sortByCreation(calls []*PendingCall) {
	for i := 1; i < len(calls); i++ {
		for j := i; j > 0 && calls[j].CreatedAt.Before(calls[j-1].CreatedAt); j-- {
			calls[j], calls[j-1] = calls[j-1], calls[j]
		}
	}
}

func snapshot(c *PendingCall) *PendingCall {
	cp := *c
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		cp.DecidedAt = &t
	}
	if c.ResumedAt != nil {
		t := *c.ResumedAt
		cp.ResumedAt = &t
	}
	return &cp
}
