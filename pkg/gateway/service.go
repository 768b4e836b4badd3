// Package gateway is the call-execution front: it routes tool calls through
// the registry, parks consequential ones in the suspension engine, and turns
// decisions and webhook events into exactly-once resumes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/correlate"
	"github.com/agentictrust/actiongate/pkg/registry"
	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/agentictrust/actiongate/pkg/types"
	"github.com/google/uuid"
)

// executor is the slice of the adapter host the service needs.
type executor interface {
	Execute(ctx context.Context, adapterID string, req adapter.ExecRequest) (json.RawMessage, error)
}

// Service ties the registry, host, and suspension engine together behind the
// operations the HTTP layer exposes.
type Service struct {
	registry *registry.Registry
	exec     executor
	engine   *suspend.Engine
	index    correlate.Index
	router   *correlate.Router
	outbox   OutboxStore
	auth     *DecisionAuthorizer
	log      *slog.Logger

	notifyURL       string
	notifySecretRef string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifyTarget sets the approver webhook for suspended/resolved events.
func WithNotifyTarget(url, secretRef string) ServiceOption {
	return func(s *Service) {
		s.notifyURL = url
		s.notifySecretRef = secretRef
	}
}

// WithEventRouter enables webhook-driven resolution of suspensions.
func WithEventRouter(r *correlate.Router) ServiceOption {
	return func(s *Service) { s.router = r }
}

// NewService creates the gateway service.
func NewService(reg *registry.Registry, exec executor, engine *suspend.Engine,
	index correlate.Index, outbox OutboxStore, auth *DecisionAuthorizer,
	log *slog.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	if auth == nil {
		auth = NewDecisionAuthorizer("")
	}
	if outbox == nil {
		outbox = NewMemoryOutbox()
	}
	if index == nil {
		index = correlate.NewMemoryIndex()
	}
	s := &Service{
		registry: reg,
		exec:     exec,
		engine:   engine,
		index:    index,
		outbox:   outbox,
		auth:     auth,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListTools returns the union tool catalog.
func (s *Service) ListTools() []adapter.ToolDescriptor {
	return s.registry.List()
}

// CallTool runs one tool call. Ordinary tools execute synchronously;
// consequential tools suspend and return a correlation id instead of output.
func (s *Service) CallTool(ctx context.Context, req *types.CallRequest) (types.CallOutcome, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return types.CallOutcome{}, err
	}

	desc, err := s.registry.Resolve(req.Tool)
	if err != nil {
		return types.CallOutcome{}, err
	}

	if !desc.Consequential {
		start := time.Now()
		out, err := s.exec.Execute(ctx, desc.AdapterID, adapter.ExecRequest{
			Tool:      req.Tool,
			Arguments: req.Arguments,
			UserID:    req.UserID,
		})
		callDuration.WithLabelValues(req.Tool).Observe(time.Since(start).Seconds())
		if err != nil {
			callsTotal.WithLabelValues(req.Tool, "error").Inc()
			outcome := types.Failed(types.AsError(err))
			outcome.DurationMS = time.Since(start).Milliseconds()
			return outcome, nil
		}
		callsTotal.WithLabelValues(req.Tool, "ok").Inc()
		outcome := types.OK(out)
		outcome.DurationMS = time.Since(start).Milliseconds()
		return outcome, nil
	}

	eventKey := extractEventKey(req.Arguments, desc.EventKey)
	call, err := s.engine.Intercept(ctx, suspend.InterceptInput{
		Tool:        req.Tool,
		AdapterID:   desc.AdapterID,
		Arguments:   req.Arguments,
		UserID:      req.UserID,
		EventSource: desc.EventSource,
		EventKey:    eventKey,
	})
	if err != nil {
		return types.CallOutcome{}, err
	}

	if desc.EventSource != "" && eventKey != "" {
		if err := s.index.Put(ctx, desc.EventSource, eventKey, call.CorrelationID); err != nil {
			s.log.ErrorContext(ctx, "event index write failed",
				"correlation_id", call.CorrelationID, "error", err)
		}
	}
	s.enqueueNotification(ctx, call, "suspended")

	callsTotal.WithLabelValues(req.Tool, "suspended").Inc()
	return types.Suspended(call.CorrelationID), nil
}

// Decide applies a human or event-sourced decision and, on approval, resumes
// the call immediately. The returned output is the adapter result when the
// decision was an approval.
func (s *Service) Decide(ctx context.Context, correlationID string, outcome suspend.Outcome, decider, reason string) (*suspend.PendingCall, json.RawMessage, error) {
	call, err := s.engine.Get(correlationID)
	if err != nil {
		return nil, nil, err
	}
	if !s.auth.Allow(call.Tool, decider) {
		return nil, nil, types.ErrForbidden("decider not allowed for this tool")
	}

	decided, err := s.engine.Decide(ctx, correlationID, outcome, decider, reason)
	if err != nil {
		return nil, nil, err
	}
	decisionsTotal.WithLabelValues(string(outcome)).Inc()
	s.dropIndexEntry(ctx, decided)

	if outcome == suspend.OutcomeDenied {
		s.enqueueNotification(ctx, decided, "resolved")
		return decided, nil, nil
	}

	out, err := s.engine.Resume(ctx, correlationID)
	final, getErr := s.engine.Get(correlationID)
	if getErr == nil {
		decided = final
	}
	s.enqueueNotification(ctx, decided, "resolved")
	if err != nil {
		resumesTotal.WithLabelValues("error").Inc()
		return decided, nil, err
	}
	resumesTotal.WithLabelValues("ok").Inc()
	return decided, out, nil
}

// HandleEvent verifies a webhook event, resolves the matching suspension, and
// applies it as a decision by the source. Redelivered events for an already
// resolved call report a duplicate instead of failing.
func (s *Service) HandleEvent(ctx context.Context, source string, body []byte, signature, timestamp string) (*suspend.PendingCall, bool, error) {
	if s.router == nil {
		return nil, false, types.ErrNotFound("no event sources configured")
	}
	ev, err := s.router.Route(ctx, source, body, signature, timestamp)
	if err != nil {
		webhookEventsTotal.WithLabelValues(source, "rejected").Inc()
		return nil, false, err
	}

	call, _, err := s.Decide(ctx, ev.CorrelationID, suspend.Outcome(ev.Outcome), "source:"+source, "resolved by "+source+" event")
	if err != nil {
		var gwErr *types.Error
		if errors.As(err, &gwErr) && gwErr.Code == "ALREADY_DECIDED" {
			webhookEventsTotal.WithLabelValues(source, "duplicate").Inc()
			existing, getErr := s.engine.Get(ev.CorrelationID)
			if getErr != nil {
				return nil, true, nil
			}
			return existing, true, nil
		}
		webhookEventsTotal.WithLabelValues(source, "error").Inc()
		return nil, false, err
	}
	webhookEventsTotal.WithLabelValues(source, "resolved").Inc()
	return call, false, nil
}

// Get returns one suspended call.
func (s *Service) Get(correlationID string) (*suspend.PendingCall, error) {
	return s.engine.Get(correlationID)
}

// ListPending returns calls awaiting a decision.
func (s *Service) ListPending() []*suspend.PendingCall {
	return s.engine.ListPending()
}

// Sweep expires overdue suspensions.
func (s *Service) Sweep(ctx context.Context) int {
	n := s.engine.Sweep(ctx)
	if n > 0 {
		expiredTotal.Add(float64(n))
	}
	return n
}

func (s *Service) dropIndexEntry(ctx context.Context, call *suspend.PendingCall) {
	if call.EventSource == "" || call.EventKey == "" {
		return
	}
	if err := s.index.Delete(ctx, call.EventSource, call.EventKey); err != nil {
		s.log.ErrorContext(ctx, "event index delete failed",
			"correlation_id", call.CorrelationID, "error", err)
	}
}

func (s *Service) enqueueNotification(ctx context.Context, call *suspend.PendingCall, kind string) {
	if s.notifyURL == "" {
		return
	}
	n := &Notification{
		ID:            uuid.NewString(),
		CorrelationID: call.CorrelationID,
		Kind:          kind,
		Tool:          call.Tool,
		UserID:        call.UserID,
		State:         string(call.State),
		Deadline:      call.Deadline,
		URL:           s.notifyURL,
		SecretRef:     s.notifySecretRef,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.outbox.Enqueue(ctx, n); err != nil {
		s.log.ErrorContext(ctx, "notification enqueue failed",
			"correlation_id", call.CorrelationID, "error", err)
	}
}

// extractEventKey pulls the named top-level string field out of the call
// arguments; the correlator will match an inbound event carrying the same
// value.
func extractEventKey(args json.RawMessage, field string) string {
	if field == "" || len(args) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return ""
	}
	raw, ok := fields[field]
	if !ok {
		return ""
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return ""
	}
	return key
}
