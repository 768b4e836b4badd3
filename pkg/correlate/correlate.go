// Package correlate matches inbound webhook events to suspended calls. Each
// event source has a shared HMAC secret and a rule for extracting the
// business key from the event body; the index maps (source, key) back to a
// correlation id.
package correlate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/agentictrust/actiongate/pkg/types"
)

// signatureWindow bounds timestamp skew on signed events.
const signatureWindow = 5 * time.Minute

// Source describes one external event source that can resolve suspensions.
type Source struct {
	Name string `yaml:"name"`
	// Secret signs event bodies; events with a bad or missing signature
	// are rejected before any lookup happens.
	Secret string `yaml:"secret"`
	// KeyField names the top-level JSON field holding the business key
	// (an order id, a message id) that ties the event to a suspension.
	KeyField string `yaml:"key_field"`
	// OutcomeField optionally names a field whose value decides
	// approve/deny; when empty every matched event approves.
	OutcomeField string `yaml:"outcome_field,omitempty"`
	// DenyValues are OutcomeField values treated as denial.
	DenyValues []string `yaml:"deny_values,omitempty"`
}

// Router verifies and routes events for a fixed set of sources.
type Router struct {
	sources map[string]Source
	index   Index
	log     *slog.Logger
	now     func() time.Time
}

// NewRouter creates a router over the given sources.
func NewRouter(sources []Source, index Index, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Name] = s
	}
	return &Router{
		sources: m,
		index:   index,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the router's time source.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// Event is a verified, routed webhook event.
type Event struct {
	Source        string
	Key           string
	CorrelationID string
	Outcome       string // "approved" or "denied"
	Body          json.RawMessage
}

// Route verifies the event signature and resolves it to a suspended call.
// Verification failures and unmatched keys return typed errors so the ingress
// handler can answer precisely without leaking which keys exist.
func (r *Router) Route(ctx context.Context, source string, body []byte, signature, timestamp string) (*Event, error) {
	src, ok := r.sources[source]
	if !ok {
		return nil, types.ErrInvalidSignature(source)
	}
	if !VerifyEvent(body, signature, timestamp, src.Secret, r.now()) {
		r.log.WarnContext(ctx, "event signature rejected", "source", source)
		return nil, types.ErrInvalidSignature(source)
	}

	key, outcome, err := extract(body, src)
	if err != nil {
		return nil, err
	}

	correlationID, found, err := r.index.Lookup(ctx, source, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.ErrNoMatchingSuspension(source, key)
	}

	return &Event{
		Source:        source,
		Key:           key,
		CorrelationID: correlationID,
		Outcome:       outcome,
		Body:          body,
	}, nil
}

func extract(body []byte, src Source) (key, outcome string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", "", types.ErrBadRequest("event body must be a JSON object")
	}

	raw, ok := fields[src.KeyField]
	if !ok {
		return "", "", types.ErrBadRequest(fmt.Sprintf("event missing key field %q", src.KeyField))
	}
	if err := json.Unmarshal(raw, &key); err != nil || key == "" {
		return "", "", types.ErrBadRequest(fmt.Sprintf("event key field %q must be a non-empty string", src.KeyField))
	}

	outcome = "approved"
	if src.OutcomeField != "" {
		var val string
		if raw, ok := fields[src.OutcomeField]; ok {
			_ = json.Unmarshal(raw, &val)
		}
		for _, deny := range src.DenyValues {
			if val == deny {
				outcome = "denied"
				break
			}
		}
	}
	return key, outcome, nil
}

// VerifyEvent checks the v0 HMAC-SHA256 signature over "v0:<ts>:<body>" and
// rejects timestamps outside the skew window to stop replays.
func VerifyEvent(rawBody []byte, signatureHeader, timestampHeader, secret string, now time.Time) bool {
	if secret == "" || signatureHeader == "" || timestampHeader == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false
	}
	reqTime := time.Unix(ts, 0)
	if reqTime.Before(now.Add(-signatureWindow)) || reqTime.After(now.Add(signatureWindow)) {
		return false
	}

	base := "v0:" + timestampHeader + ":" + string(rawBody)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// SignEvent produces the signature header for a body and timestamp; used by
// the simulator and by tests.
func SignEvent(rawBody []byte, timestampHeader, secret string) string {
	base := "v0:" + timestampHeader + ":" + string(rawBody)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
