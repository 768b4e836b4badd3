package rightfind

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/config"
	"github.com/agentictrust/actiongate/pkg/types"
)

type staticCreds struct{ token string }

func (c staticCreds) Token(_ context.Context, userID, provider string) (string, error) {
	if c.token == "" {
		return "", types.ErrNoCredential(userID, provider)
	}
	return c.token, nil
}

func newAdapter(t *testing.T, baseURL string, creds adapter.CredentialSource) adapter.Adapter {
	t.Helper()
	a, err := New(config.AdapterSpec{
		ID:       "rightfind",
		Kind:     config.KindBuiltin,
		Settings: map[string]string{"base_url": baseURL},
	}, creds)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return a
}

func TestToolsDeclareSpendGate(t *testing.T) {
	a := newAdapter(t, "http://localhost:0", staticCreds{token: "x"})
	tools, err := a.Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	byName := map[string]adapter.ToolDescriptor{}
	for _, d := range tools {
		byName[d.Name] = d
	}
	if !byName["purchase_article"].Consequential {
		t.Fatal("purchase_article must be consequential")
	}
	if byName["search_literature"].Consequential {
		t.Fatal("search_literature must not be consequential")
	}
	if byName["purchase_article"].EventSource != "rightfind" || byName["purchase_article"].EventKey != "doi" {
		t.Fatalf("unexpected event binding: %+v", byName["purchase_article"])
	}
}

func TestSearchUsesCallerToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []string{"Novel Inhibitors"}})
	}))
	defer srv.Close()

	a := newAdapter(t, srv.URL, staticCreds{token: "user-token"})
	out, err := a.Execute(context.Background(), adapter.ExecRequest{
		Tool:      "search_literature",
		Arguments: json.RawMessage(`{"query":"science"}`),
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotAuth != "Bearer user-token" || gotPath != "/search" {
		t.Fatalf("auth=%q path=%q", gotAuth, gotPath)
	}
	if out == nil {
		t.Fatal("expected output")
	}
}

func TestMissingCredentialSurfaces(t *testing.T) {
	a := newAdapter(t, "http://localhost:0", staticCreds{})
	_, err := a.Execute(context.Background(), adapter.ExecRequest{
		Tool: "search_literature", Arguments: json.RawMessage(`{"query":"x"}`), UserID: "u1",
	})
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "NO_CREDENTIAL" {
		t.Fatalf("expected NO_CREDENTIAL, got %v", err)
	}
}

func TestUpstreamErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"Search failed"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newAdapter(t, srv.URL, staticCreds{token: "x"})
	_, err := a.Execute(context.Background(), adapter.ExecRequest{
		Tool: "search_literature", Arguments: json.RawMessage(`{"query":"fail"}`), UserID: "u1",
	})
	if err == nil {
		t.Fatal("expected upstream error")
	}
}

func TestRequiresBaseURL(t *testing.T) {
	_, err := New(config.AdapterSpec{ID: "rightfind", Kind: config.KindBuiltin}, staticCreds{token: "x"})
	if err == nil {
		t.Fatal("expected missing base_url to fail")
	}
}
