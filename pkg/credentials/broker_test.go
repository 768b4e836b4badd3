package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentictrust/actiongate/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var gwErr *types.Error
	if !errors.As(err, &gwErr) || gwErr.Code != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func tokenServer(t *testing.T, hits *atomic.Int32, handler func(r *http.Request) (int, map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		status, body := handler(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestTokenRefreshAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(r *http.Request) (int, map[string]any) {
		if r.PostFormValue("refresh_token") != "rt-1" {
			return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
		}
		return http.StatusOK, map[string]any{
			"access_token": "at-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "rightfind", RefreshToken: "rt-1"})
	b := NewBroker([]Provider{{
		Name: "rightfind", ClientID: "cid", ClientSecret: "cs", TokenURL: srv.URL,
	}}, store, testLogger())

	ctx := context.Background()
	tok, err := b.Token(ctx, "u1", "rightfind")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "at-1" {
		t.Fatalf("unexpected token %q", tok)
	}

	// Second fetch inside the expiry window must come from cache.
	if _, err := b.Token(ctx, "u1", "rightfind"); err != nil {
		t.Fatalf("cached token: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one provider hit, got %d", hits.Load())
	}
}

func TestTokenRefreshFailureIsTyped(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(*http.Request) (int, map[string]any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "rightfind", RefreshToken: "rt-revoked"})
	b := NewBroker([]Provider{{
		Name: "rightfind", ClientID: "cid", ClientSecret: "cs", TokenURL: srv.URL,
	}}, store, testLogger())

	_, err := b.Token(context.Background(), "u1", "rightfind")
	wantCode(t, err, "REFRESH_FAILED")
}

func TestTokenNoGrant(t *testing.T) {
	b := NewBroker([]Provider{{Name: "rightfind", TokenURL: "http://localhost:0"}},
		NewMemoryStore(), testLogger())

	_, err := b.Token(context.Background(), "stranger", "rightfind")
	wantCode(t, err, "NO_CREDENTIAL")
}

func TestTokenUnknownProvider(t *testing.T) {
	b := NewBroker(nil, NewMemoryStore(), testLogger())
	_, err := b.Token(context.Background(), "u1", "nowhere")
	wantCode(t, err, "NO_CREDENTIAL")
}

func TestTokenExchange(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(r *http.Request) (int, map[string]any) {
		if r.PostFormValue("grant_type") != grantTypeTokenExchange {
			return http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"}
		}
		if r.PostFormValue("subject_token") != "user-tok" {
			return http.StatusForbidden, map[string]any{"error": "invalid_grant"}
		}
		if r.PostFormValue("audience") != "ms365" {
			return http.StatusBadRequest, map[string]any{"error": "invalid_target"}
		}
		return http.StatusOK, map[string]any{
			"access_token":      "delegated-at",
			"issued_token_type": tokenTypeAccessToken,
			"token_type":        "Bearer",
			"expires_in":        600,
		}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "ms365", SubjectToken: "user-tok"})
	b := NewBroker([]Provider{{
		Name: "ms365", ClientID: "cid", ClientSecret: "cs", TokenURL: srv.URL,
		Exchange: true, Audience: "ms365",
	}}, store, testLogger())

	tok, err := b.Token(context.Background(), "u1", "ms365")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok != "delegated-at" {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestTokenExchangeRejection(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(*http.Request) (int, map[string]any) {
		return http.StatusForbidden, map[string]any{
			"error": "invalid_grant", "error_description": "subject token expired",
		}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "ms365", SubjectToken: "old"})
	b := NewBroker([]Provider{{
		Name: "ms365", TokenURL: srv.URL, Exchange: true,
	}}, store, testLogger())

	_, err := b.Token(context.Background(), "u1", "ms365")
	wantCode(t, err, "EXCHANGE_REJECTED")
}

func TestStaleCacheTriggersRefresh(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(*http.Request) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600,
		}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "p", RefreshToken: "rt"})
	b := NewBroker([]Provider{{Name: "p", TokenURL: srv.URL}}, store, testLogger())

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := &clock
	b.SetClock(func() time.Time { return *now })

	ctx := context.Background()
	if _, err := b.Token(ctx, "u1", "p"); err != nil {
		t.Fatalf("token: %v", err)
	}

	clock = clock.Add(2 * time.Hour) // past expiry
	if _, err := b.Token(ctx, "u1", "p"); err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 provider hits, got %d", hits.Load())
	}
}

func TestRotatedRefreshTokenPersisted(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits, func(*http.Request) (int, map[string]any) {
		return http.StatusOK, map[string]any{
			"access_token": "at", "refresh_token": "rt-new",
			"token_type": "Bearer", "expires_in": 3600,
		}
	})
	defer srv.Close()

	store := NewMemoryStore(&Grant{UserID: "u1", Provider: "p", RefreshToken: "rt-old"})
	b := NewBroker([]Provider{{Name: "p", TokenURL: srv.URL}}, store, testLogger())

	if _, err := b.Token(context.Background(), "u1", "p"); err != nil {
		t.Fatalf("token: %v", err)
	}
	g, _ := store.GetGrant(context.Background(), "u1", "p")
	if g.RefreshToken != "rt-new" {
		t.Fatalf("expected rotated refresh token, got %q", g.RefreshToken)
	}
}
