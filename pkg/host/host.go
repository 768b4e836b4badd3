// Package host loads, validates, and isolates tool adapters. Adapters are
// enumerated from a declarative manifest: builtin implementations are
// selected from a compiled-in factory set, remote ones run out-of-process
// behind an HTTP contract. A fault in one adapter is contained at its
// boundary and never crashes the host or other adapters' in-flight work.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/config"
	"github.com/agentictrust/actiongate/pkg/types"
	"github.com/google/uuid"
)

// Health states of a loaded adapter.
const (
	HealthLoading = "loading"
	HealthReady   = "ready"
	HealthFailed  = "failed"
)

const defaultExecTimeout = 30 * time.Second

// Factory builds a compiled-in adapter from its spec. The credential source
// it receives is the only way the adapter reaches provider tokens; raw
// secret material is never handed over.
type Factory func(spec config.AdapterSpec, creds adapter.CredentialSource) (adapter.Adapter, error)

// Record is one loaded adapter instance.
type Record struct {
	ID         string
	LoadCycle  string // unique per load, distinguishes reloads
	Spec       config.AdapterSpec
	Health     string
	Tools      []adapter.ToolDescriptor
	impl       adapter.Adapter
	failReason string
}

// Host owns adapter lifecycle and execution isolation.
type Host struct {
	safeRoot    string
	factories   map[string]Factory
	creds       adapter.CredentialSource
	log         *slog.Logger
	execTimeout time.Duration

	mu      sync.RWMutex
	records map[string]*Record
}

// Option configures a Host.
type Option func(*Host)

// WithExecTimeout caps how long a single adapter execution may run.
func WithExecTimeout(d time.Duration) Option {
	return func(h *Host) { h.execTimeout = d }
}

// New creates a host rooted at safeRoot. Factories map builtin adapter ids to
// their constructors.
func New(safeRoot string, factories map[string]Factory, creds adapter.CredentialSource, log *slog.Logger, opts ...Option) *Host {
	if log == nil {
		log = slog.Default()
	}
	h := &Host{
		safeRoot:    safeRoot,
		factories:   factories,
		creds:       creds,
		log:         log,
		execTimeout: defaultExecTimeout,
		records:     make(map[string]*Record),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Load validates and instantiates one adapter. Each validation step is a hard
// gate: path containment, then construction, then interface conformance via a
// live Tools call. On any failure the adapter is never marked ready.
func (h *Host) Load(ctx context.Context, spec config.AdapterSpec) error {
	h.mu.Lock()
	if _, exists := h.records[spec.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("host.Load: adapter %q is already loaded", spec.ID)
	}
	rec := &Record{
		ID:        spec.ID,
		LoadCycle: uuid.NewString(),
		Spec:      spec,
		Health:    HealthLoading,
	}
	h.records[spec.ID] = rec
	h.mu.Unlock()

	fail := func(err error) error {
		h.mu.Lock()
		rec.Health = HealthFailed
		rec.failReason = err.Error()
		h.mu.Unlock()
		return err
	}

	// Gate (a): path containment. The manifest loader already checked this,
	// but Load accepts specs from any source, so the gate is repeated here.
	if spec.Path != "" {
		resolved, err := config.ContainPath(h.safeRoot, spec.Path)
		if err != nil {
			return fail(err)
		}
		spec.Path = resolved
		rec.Spec.Path = resolved
	}

	impl, err := h.construct(spec)
	if err != nil {
		return fail(err)
	}

	// Gate (b): interface conformance. The adapter must answer a live tool
	// listing; an error or empty contract fails the load.
	tools, err := impl.Tools(ctx)
	if err != nil {
		return fail(types.ErrInvalidAdapter(spec.ID, fmt.Sprintf("tool listing failed: %v", err)))
	}
	if len(tools) == 0 {
		return fail(types.ErrInvalidAdapter(spec.ID, "adapter advertises no tools"))
	}
	for i := range tools {
		tools[i].AdapterID = spec.ID
	}

	h.mu.Lock()
	rec.impl = impl
	rec.Tools = tools
	rec.Health = HealthReady
	h.mu.Unlock()

	h.log.Info("adapter loaded", "adapter_id", spec.ID, "kind", spec.Kind, "tools", len(tools))
	return nil
}

func (h *Host) construct(spec config.AdapterSpec) (adapter.Adapter, error) {
	switch spec.Kind {
	case config.KindBuiltin:
		factory, ok := h.factories[spec.ID]
		if !ok {
			return nil, types.ErrInvalidAdapter(spec.ID, "no builtin implementation with this id")
		}
		impl, err := factory(spec, h.creds)
		if err != nil {
			return nil, types.ErrInvalidAdapter(spec.ID, fmt.Sprintf("construction failed: %v", err))
		}
		return impl, nil
	case config.KindRemote:
		return NewRemote(spec, h.creds), nil
	default:
		return nil, types.ErrInvalidAdapter(spec.ID, fmt.Sprintf("unsupported kind %q", spec.Kind))
	}
}

// Unload releases an adapter's record. Tool descriptors owned by it must be
// unregistered by the caller (the gateway wires both).
func (h *Host) Unload(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
}

// Get returns a snapshot of one adapter record.
func (h *Host) Get(id string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns snapshots of all loaded adapters.
func (h *Host) Records() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Record, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, *rec)
	}
	return out
}

// Execute runs one tool call inside the adapter's isolation boundary. Panics
// and timeouts are caught here and reported as ADAPTER_EXECUTION_ERROR with
// the adapter id; they never propagate to the caller's goroutine. Typed
// gateway errors raised below the boundary (credential failures) pass
// through untouched so callers can distinguish remediation.
func (h *Host) Execute(ctx context.Context, adapterID string, req adapter.ExecRequest) (json.RawMessage, error) {
	h.mu.RLock()
	rec, ok := h.records[adapterID]
	h.mu.RUnlock()
	if !ok || rec.Health != HealthReady {
		return nil, types.ErrAdapterUnavailable(adapterID)
	}

	ctx, cancel := context.WithTimeout(ctx, h.execTimeout)
	defer cancel()

	type result struct {
		out json.RawMessage
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				h.log.Error("adapter panic contained",
					"adapter_id", adapterID,
					"tool", req.Tool,
					"panic", fmt.Sprint(p),
					"stack", string(debug.Stack()),
				)
				done <- result{err: types.ErrAdapterExecution(adapterID, req.Tool, fmt.Sprintf("panic: %v", p))}
			}
		}()
		o, e := rec.impl.Execute(ctx, req)
		done <- result{out: o, err: e}
	}()

	select {
	case <-ctx.Done():
		return nil, types.ErrAdapterExecution(adapterID, req.Tool, ctx.Err().Error())
	case r := <-done:
		if r.err != nil {
			var gwErr *types.Error
			if errors.As(r.err, &gwErr) {
				return nil, gwErr
			}
			return nil, types.ErrAdapterExecution(adapterID, req.Tool, r.err.Error())
		}
		return r.out, nil
	}
}
