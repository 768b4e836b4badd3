// Package ms365 is the built-in adapter for Microsoft 365 mail and calendar.
// Scheduling lookups and drafting are synchronous; sending a drafted email is
// consequential and waits for approval.
package ms365

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

// Adapter talks to a Graph-compatible API with a token delegated to the
// calling user.
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
		return nil, fmt.Errorf("ms365: settings.base_url is required")
	}
	provider := spec.Provider
	if provider == "" {
		provider = "ms365"
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
			Name:        "find_meeting_slot",
			Description: "Find open meeting times for a set of attendees.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"attendees":{"type":"array","items":{"type":"string"}},"duration":{"type":"string"}},"required":["attendees","duration"]}`),
		},
		{
			Name:        "draft_email",
			Description: "Create a draft message without sending it.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"to":{"type":"array","items":{"type":"string"}},"subject":{"type":"string"},"body":{"type":"string"}},"required":["to","subject"]}`),
		},
		{
			Name:          "send_email",
			Description:   "Send a previously drafted message. Requires approval.",
			InputSchema:   json.RawMessage(`{"type":"object","properties":{"message_id":{"type":"string"}},"required":["message_id"]}`),
			Consequential: true,
			EventSource:   "ms365",
			EventKey:      "message_id",
		},
	}, nil
}

func (a *Adapter) Execute(ctx context.Context, req adapter.ExecRequest) (json.RawMessage, error) {
	token, err := a.creds.Token(ctx, req.UserID, a.provider)
	if err != nil {
		return nil, err
	}

	switch req.Tool {
	case "find_meeting_slot":
		var args struct {
			Attendees []string `json:"attendees"`
			Duration  string   `json:"duration"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args.Attendees) == 0 {
			return nil, fmt.Errorf("ms365: find_meeting_slot requires attendees")
		}
		body, err := json.Marshal(map[string]any{
			"attendees":       args.Attendees,
			"meetingDuration": args.Duration,
		})
		if err != nil {
			return nil, err
		}
		return a.post(ctx, token, "/me/findMeetingTimes", body)
	case "draft_email":
		return a.post(ctx, token, "/me/messages", req.Arguments)
	case "send_email":
		var args struct {
			MessageID string `json:"message_id"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil || args.MessageID == "" {
			return nil, fmt.Errorf("ms365: send_email requires a message_id")
		}
		out, err := a.post(ctx, token, "/me/messages/"+url.PathEscape(args.MessageID)+"/send", nil)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			out = json.RawMessage(`{"sent":true}`)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ms365: unknown tool %q", req.Tool)
	}
}

func (a *Adapter) post(ctx context.Context, token, path string, body json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ms365 request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ms365 %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("ms365 %s read: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ms365 %s: status=%d", path, resp.StatusCode)
	}
	return respBody, nil
}
