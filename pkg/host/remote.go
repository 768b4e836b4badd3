package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/config"
)

const maxRemoteResponseBytes = 4 << 20

// Remote is an adapter running out-of-process behind the HTTP contract:
// GET /tools returns its descriptors, POST /exec runs one call. The tool
// list may instead come from a declarative manifest file inside the safe
// root, so the gateway can boot without the remote being up.
type Remote struct {
	spec       config.AdapterSpec
	httpClient *http.Client
	token      string // internal auth token sent on every request
}

// NewRemote creates a remote adapter from its spec. The credential source is
// unused here: remote adapters resolve provider tokens on their own side of
// the boundary.
func NewRemote(spec config.AdapterSpec, _ adapter.CredentialSource) *Remote {
	return &Remote{
		spec: spec,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token: os.Getenv("INTERNAL_AUTH_TOKEN"),
	}
}

// SetTimeout overrides the default HTTP client timeout for remote calls.
func (r *Remote) SetTimeout(d time.Duration) {
	r.httpClient.Timeout = d
}

// Tools returns the adapter's declared tools, preferring the manifest file
// when one is configured.
func (r *Remote) Tools(ctx context.Context) ([]adapter.ToolDescriptor, error) {
	if r.spec.Path != "" {
		return r.toolsFromManifest()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.spec.BaseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("remote tools request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("X-Internal-Token", r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote tools request to %s: %w", r.spec.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for reuse
		return nil, fmt.Errorf("remote tools from %s: status=%d", r.spec.ID, resp.StatusCode)
	}

	var tools []adapter.ToolDescriptor
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteResponseBytes)).Decode(&tools); err != nil {
		return nil, fmt.Errorf("remote tools decode: %w", err)
	}
	return tools, nil
}

func (r *Remote) toolsFromManifest() ([]adapter.ToolDescriptor, error) {
	raw, err := os.ReadFile(r.spec.Path)
	if err != nil {
		return nil, fmt.Errorf("remote tool manifest %s: %w", r.spec.Path, err)
	}
	var tools []adapter.ToolDescriptor
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("remote tool manifest parse %s: %w", r.spec.Path, err)
	}
	return tools, nil
}

// execResponse is what the remote side returns from /exec.
type execResponse struct {
	Status string          `json:"status"` // "success" | "error"
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Execute forwards the call to the remote adapter's /exec endpoint.
func (r *Remote) Execute(ctx context.Context, req adapter.ExecRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote exec marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.spec.BaseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote exec request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		httpReq.Header.Set("X-Internal-Token", r.token)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote exec to %s: %w", r.spec.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("remote exec read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote exec to %s: status=%d", r.spec.ID, resp.StatusCode)
	}

	var execResp execResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, fmt.Errorf("remote exec decode response: %w", err)
	}
	if execResp.Status != "success" {
		return nil, fmt.Errorf("remote adapter %s: %s", r.spec.ID, execResp.Error)
	}
	return execResp.Output, nil
}
