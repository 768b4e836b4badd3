// Package rightfind is the built-in adapter for the RightFind content
// marketplace: literature search and rights checks run synchronously, while
// article purchases are consequential and resolve on the marketplace's
// fulfillment webhook.
package rightfind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/config"
)

const maxResponseBytes = 4 << 20

// Adapter talks to a RightFind-compatible API with the caller's own token.
type Adapter struct {
	baseURL    string
	provider   string
	httpClient *http.Client
	creds      adapter.CredentialSource
}

// New builds the adapter from its manifest spec. settings.base_url is
// required.
func New(spec config.AdapterSpec, creds adapter.CredentialSource) (adapter.Adapter, error) {
	baseURL := strings.TrimRight(spec.Settings["base_url"], "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rightfind: settings.base_url is required")
	}
	provider := spec.Provider
	if provider == "" {
		provider = "rightfind"
	}
	return &Adapter{
		baseURL:    baseURL,
		provider:   provider,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		creds:      creds,
	}, nil
}

func (a *Adapter) Tools(context.Context) ([]adapter.ToolDescriptor, error) {
	return []adapter.ToolDescriptor{
		{
			Name:        "search_literature",
			Description: "Search scientific literature by free-text query.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
		{
			Name:        "check_rights",
			Description: "Check reuse rights for a document identified by DOI.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"doi":{"type":"string","description":"The DOI to check"}},"required":["doi"]}`),
		},
		{
			Name:          "purchase_article",
			Description:   "Order a copy of an article. Spends money and requires approval.",
			InputSchema:   json.RawMessage(`{"type":"object","properties":{"doi":{"type":"string"}},"required":["doi"]}`),
			Consequential: true,
			EventSource:   "rightfind",
			EventKey:      "doi",
		},
	}, nil
}

func (a *Adapter) Execute(ctx context.Context, req adapter.ExecRequest) (json.RawMessage, error) {
	token, err := a.creds.Token(ctx, req.UserID, a.provider)
	if err != nil {
		return nil, err
	}

	switch req.Tool {
	case "search_literature":
		return a.post(ctx, token, "/search", req.Arguments)
	case "check_rights":
		var args struct {
			DOI string `json:"doi"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil || args.DOI == "" {
			return nil, fmt.Errorf("rightfind: check_rights requires a doi")
		}
		return a.get(ctx, token, "/rights?doi="+url.QueryEscape(args.DOI))
	case "purchase_article":
		return a.post(ctx, token, "/orders", req.Arguments)
	default:
		return nil, fmt.Errorf("rightfind: unknown tool %q", req.Tool)
	}
}

func (a *Adapter) post(ctx context.Context, token, path string, body json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rightfind request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, token, path)
}

func (a *Adapter) get(ctx context.Context, token, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("rightfind request: %w", err)
	}
	return a.do(req, token, path)
}

func (a *Adapter) do(req *http.Request, token, path string) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rightfind %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("rightfind %s read: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rightfind %s: status=%d body=%s", path, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
