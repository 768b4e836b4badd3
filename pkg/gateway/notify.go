package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	dispatchBatchSize       = 100
	maxDispatchBackoff      = 5 * time.Minute
	maxNotificationAttempts = 10
)

// Notification is one outbox row: an approver-facing event about a call that
// suspended or resolved, delivered at-least-once to a webhook.
type Notification struct {
	ID            string
	CorrelationID string
	Kind          string // "suspended" | "resolved"
	Tool          string
	UserID        string
	State         string
	Deadline      time.Time
	URL           string
	SecretRef     string
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStore persists notifications until they are delivered. ClaimDue takes
// exclusive ownership of the returned items and counts the attempt; a claimed
// item is released only by MarkSent, MarkRetry, or MarkFailed.
type OutboxStore interface {
	Enqueue(ctx context.Context, n *Notification) error
	ClaimDue(ctx context.Context, limit int) ([]*Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Notifier drains the outbox to approver webhooks as signed CloudEvents.
type Notifier struct {
	store      OutboxStore
	httpClient *http.Client
	source     string
	secrets    map[string]string
	log        *slog.Logger

	SkipWebhookValidation bool // testing only, disables SSRF URL checks
}

// NewNotifier creates a notifier. source is the CloudEvents source URI for
// this gateway instance.
func NewNotifier(store OutboxStore, source string, secrets map[string]string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		source:     source,
		secrets:    secrets,
		log:        log,
	}
}

// DispatchOnce claims due notifications and attempts one delivery each.
func (n *Notifier) DispatchOnce(ctx context.Context) error {
	items, err := n.store.ClaimDue(ctx, dispatchBatchSize)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.URL == "" {
			_ = n.store.MarkFailed(ctx, item.ID, "notify url is empty")
			continue
		}
		if err := n.deliver(ctx, item); err != nil {
			// item.Attempts already counts this delivery, claimed above.
			if item.Attempts >= maxNotificationAttempts {
				if markErr := n.store.MarkFailed(ctx, item.ID, "max retries exceeded: "+err.Error()); markErr != nil {
					n.log.ErrorContext(ctx, "mark notification failed error", "id", item.ID, "error", markErr)
				}
				continue
			}
			next := time.Now().UTC().Add(backoffForAttempt(item.Attempts))
			if markErr := n.store.MarkRetry(ctx, item.ID, next, err.Error()); markErr != nil {
				n.log.ErrorContext(ctx, "mark notification retry error", "id", item.ID, "error", markErr)
			}
			continue
		}
		if markErr := n.store.MarkSent(ctx, item.ID); markErr != nil {
			n.log.ErrorContext(ctx, "mark notification sent error", "id", item.ID, "error", markErr)
		}
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, item *Notification) error {
	if !n.SkipWebhookValidation {
		if err := ValidateWebhookURL(item.URL); err != nil {
			return fmt.Errorf("webhook URL validation: %w", err)
		}
	}
	body, err := buildCallCloudEvent(item, n.source)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	eventType := "ag.call." + item.Kind
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Type", eventType)
	req.Header.Set("Ce-Id", item.ID)
	req.Header.Set("Ce-Source", n.source)
	if secret, ok := n.secrets[item.SecretRef]; ok && secret != "" {
		req.Header.Set("X-AG-Signature-256", SignBodyHMACSHA256(body, secret))
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for reuse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook status=%d", resp.StatusCode)
}

// ValidateWebhookURL rejects destinations that could reach internal networks.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only https scheme allowed, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	ip := net.ParseIP(host)
	if ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("private/loopback IP not allowed: %s", ip)
		}
	}
	return nil
}

func backoffForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := time.Second * time.Duration(1<<min(attempt, 8))
	if d > maxDispatchBackoff {
		return maxDispatchBackoff
	}
	return d
}

// SignBodyHMACSHA256 signs an outbound webhook body for receiver verification.
func SignBodyHMACSHA256(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type cloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Time            string         `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
}

func buildCallCloudEvent(item *Notification, source string) ([]byte, error) {
	ev := cloudEvent{
		SpecVersion:     "1.0",
		ID:              item.ID,
		Type:            "ag.call." + item.Kind,
		Source:          source,
		Time:            time.Now().UTC().Format(time.RFC3339Nano),
		DataContentType: "application/json",
		Data: map[string]any{
			"correlation_id": item.CorrelationID,
			"tool":           item.Tool,
			"user_id":        item.UserID,
			"state":          item.State,
			"deadline":       item.Deadline.Format(time.RFC3339),
			"created_at":     item.CreatedAt.Format(time.RFC3339),
		},
	}
	return json.Marshal(ev)
}
