// Package registry aggregates every adapter's advertised tools into one
// namespace and resolves calls by tool name.
package registry

import (
	"sync"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/types"
)

// Registry maps tool names to descriptors. Thread-safe.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]adapter.ToolDescriptor
	order  []string            // registration order, stable for paging clients
	owned  map[string][]string // adapter id → tool names
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]adapter.ToolDescriptor),
		owned:  make(map[string][]string),
	}
}

// Register adds all of an adapter's tools atomically. A name collision with a
// previously registered tool rejects the whole batch and registers nothing:
// silent shadowing would let a malicious adapter hijack another's tool name.
func (r *Registry) Register(adapterID string, tools []adapter.ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if _, ok := r.byName[t.Name]; ok {
			return types.ErrDuplicateToolName(t.Name, adapterID)
		}
		if _, ok := seen[t.Name]; ok {
			return types.ErrDuplicateToolName(t.Name, adapterID)
		}
		seen[t.Name] = struct{}{}
	}

	for _, t := range tools {
		t.AdapterID = adapterID
		r.byName[t.Name] = t
		r.order = append(r.order, t.Name)
		r.owned[adapterID] = append(r.owned[adapterID], t.Name)
	}
	return nil
}

// Unregister removes every tool owned by the given adapter.
func (r *Registry) Unregister(adapterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.owned[adapterID]
	if len(names) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
		delete(r.byName, n)
	}
	kept := r.order[:0]
	for _, n := range r.order {
		if _, gone := drop[n]; !gone {
			kept = append(kept, n)
		}
	}
	r.order = kept
	delete(r.owned, adapterID)
}

// Resolve returns the descriptor for a tool name.
func (r *Registry) Resolve(name string) (adapter.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byName[name]
	if !ok {
		return adapter.ToolDescriptor{}, types.ErrUnknownTool(name)
	}
	return t, nil
}

// List returns all descriptors in registration order.
func (r *Registry) List() []adapter.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]adapter.ToolDescriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}
