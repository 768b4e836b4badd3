package registry

import (
	"errors"
	"testing"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/types"
)

func descs(names ...string) []adapter.ToolDescriptor {
	out := make([]adapter.ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, adapter.ToolDescriptor{Name: n})
	}
	return out
}

func TestRegisterDisjointAdaptersListsUnionInOrder(t *testing.T) {
	r := New()
	if err := r.Register("a1", descs("search_literature", "purchase_article")); err != nil {
		t.Fatalf("register a1: %v", err)
	}
	if err := r.Register("a2", descs("send_email")); err != nil {
		t.Fatalf("register a2: %v", err)
	}

	got := r.List()
	want := []string{"search_literature", "purchase_article", "send_email"}
	if len(got) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(got))
	}
	for i, n := range want {
		if got[i].Name != n {
			t.Fatalf("position %d: expected %s got %s", i, n, got[i].Name)
		}
	}
	if got[2].AdapterID != "a2" {
		t.Fatalf("expected owner a2, got %s", got[2].AdapterID)
	}
}

func TestRegisterCollisionRegistersNothing(t *testing.T) {
	r := New()
	if err := r.Register("a1", descs("send_email")); err != nil {
		t.Fatalf("register a1: %v", err)
	}

	err := r.Register("a2", descs("draft_email", "send_email"))
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "DUPLICATE_TOOL_NAME" {
		t.Fatalf("expected DUPLICATE_TOOL_NAME, got %v", err)
	}

	// The colliding batch must not be partially registered.
	if _, err := r.Resolve("draft_email"); err == nil {
		t.Fatal("draft_email should not have been registered")
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(r.List()))
	}
}

func TestRegisterRejectsCollisionWithinBatch(t *testing.T) {
	r := New()
	err := r.Register("a1", descs("x", "x"))
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "DUPLICATE_TOOL_NAME" {
		t.Fatalf("expected DUPLICATE_TOOL_NAME, got %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatal("expected empty registry after rejected batch")
	}
}

func TestResolveUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Resolve("missing")
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "UNKNOWN_TOOL" {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
}

func TestUnregisterRemovesOnlyOwnedTools(t *testing.T) {
	r := New()
	if err := r.Register("a1", descs("one", "two")); err != nil {
		t.Fatalf("register a1: %v", err)
	}
	if err := r.Register("a2", descs("three")); err != nil {
		t.Fatalf("register a2: %v", err)
	}

	r.Unregister("a1")

	if _, err := r.Resolve("one"); err == nil {
		t.Fatal("expected tool one to be gone")
	}
	got := r.List()
	if len(got) != 1 || got[0].Name != "three" {
		t.Fatalf("unexpected remaining tools: %+v", got)
	}

	// Name is reusable after unload.
	if err := r.Register("a3", descs("one")); err != nil {
		t.Fatalf("re-register after unload: %v", err)
	}
}
