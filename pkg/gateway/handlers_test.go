package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentictrust/actiongate/pkg/auth"
	"github.com/agentictrust/actiongate/pkg/correlate"
	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T, fx *testFixture) *httptest.Server {
	t.Helper()
	h := NewHandlers(fx.svc, testLogger(), 100, nil)
	r := chi.NewRouter()
	r.Use(auth.APIKeyAuth(auth.NewKeyStore("u1:sk-user,manager:sk-manager")))
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, apiKey string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHTTPListTools(t *testing.T) {
	srv := newTestServer(t, newFixture(t))
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "sk-user", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	tools, ok := body["tools"].([]any)
	if !ok || len(tools) != 2 {
		t.Fatalf("unexpected tools: %v", body)
	}
}

func TestHTTPUnauthenticated(t *testing.T) {
	srv := newTestServer(t, newFixture(t))
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHTTPCallSuspendApproveFlow(t *testing.T) {
	fx := newFixture(t)
	srv := newTestServer(t, fx)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/tools/call", "sk-user", map[string]any{
		"tool":      "purchase_article",
		"arguments": map[string]any{"doi": "10.1/x"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", resp.StatusCode, body)
	}
	cid, _ := body["correlation_id"].(string)
	if cid == "" || body["status"] != "suspended" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Shows up in the pending list.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/suspensions", "sk-manager", nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("unexpected pending list: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/suspensions/"+cid+"/approve", "sk-manager", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %v", resp.StatusCode, body)
	}
	if body["state"] != "resumed" || body["decided_by"] != "manager" {
		t.Fatalf("unexpected approve body: %v", body)
	}
	if fx.exec.count() != 1 {
		t.Fatalf("expected one execution, got %d", fx.exec.count())
	}

	// Replayed approval is rejected.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/suspensions/"+cid+"/approve", "sk-manager", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", resp.StatusCode)
	}
}

func TestHTTPDenyWithReason(t *testing.T) {
	fx := newFixture(t)
	srv := newTestServer(t, fx)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/v1/tools/call", "sk-user", map[string]any{
		"tool":      "purchase_article",
		"arguments": map[string]any{"doi": "10.1/x"},
	})
	cid := body["correlation_id"].(string)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/suspensions/"+cid+"/deny", "sk-manager",
		map[string]any{"reason": "over budget"})
	if resp.StatusCode != http.StatusOK || body["state"] != "denied" {
		t.Fatalf("unexpected deny: %d %v", resp.StatusCode, body)
	}

	call, err := fx.svc.Get(cid)
	if err != nil || call.DenyReason != "over budget" {
		t.Fatalf("unexpected call: %+v err=%v", call, err)
	}
}

func TestHTTPHookNeedsNoAPIKey(t *testing.T) {
	fx := newFixture(t)
	srv := newTestServer(t, fx)

	_, callBody := doJSON(t, http.MethodPost, srv.URL+"/v1/tools/call", "sk-user", map[string]any{
		"tool":      "purchase_article",
		"arguments": map[string]any{"doi": "10.1/x"},
	})
	cid := callBody["correlation_id"].(string)

	eventBody := []byte(`{"doi":"10.1/x","status":"fulfilled"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/hooks/rightfind", bytes.NewReader(eventBody))
	req.Header.Set("X-AG-Signature", correlate.SignEvent(eventBody, ts, "hook-secret"))
	req.Header.Set("X-AG-Timestamp", ts)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hook status %d", resp.StatusCode)
	}

	call, err := fx.svc.Get(cid)
	if err != nil || call.State != suspend.StateResumed {
		t.Fatalf("expected resumed, got %+v err=%v", call, err)
	}
}

func TestHTTPGetUnknownSuspension(t *testing.T) {
	srv := newTestServer(t, newFixture(t))
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/suspensions/nope", "sk-manager", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHTTPRateLimit(t *testing.T) {
	fx := newFixture(t)
	h := NewHandlers(fx.svc, testLogger(), 1, nil)
	r := chi.NewRouter()
	h.Mount(r)

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/tools/call",
			bytes.NewReader([]byte(`{"tool":"search_literature","arguments":{}}`)))
		req = req.WithContext(auth.WithUser(context.Background(), "u1"))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected rate limiting to kick in")
	}
}
