package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/agentictrust/actiongate/pkg/auth"
	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/agentictrust/actiongate/pkg/types"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Handlers exposes the service over HTTP.
type Handlers struct {
	svc     *Service
	log     *slog.Logger
	limiter *userLimiter
	ready   func() bool
}

// NewHandlers creates the HTTP layer. perUserLimit is requests per second per
// authenticated user; ready gates /readyz.
func NewHandlers(svc *Service, log *slog.Logger, perUserLimit int, ready func() bool) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handlers{
		svc:     svc,
		log:     log,
		limiter: newUserLimiter(perUserLimit),
		ready:   ready,
	}
}

// Mount registers all routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/v1/tools", h.ListTools)
	r.Post("/v1/tools/call", h.CallTool)
	r.Get("/v1/suspensions", h.ListPending)
	r.Get("/v1/suspensions/{correlation_id}", h.GetSuspension)
	r.Post("/v1/suspensions/{correlation_id}/approve", h.Approve)
	r.Post("/v1/suspensions/{correlation_id}/deny", h.Deny)
	r.Post("/v1/hooks/{source}", h.HookEvent)
}

// ListTools handles GET /v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"tools": h.svc.ListTools()})
}

// CallTool handles POST /v1/tools/call.
func (h *Handlers) CallTool(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())
	if !h.limiter.allow(userID) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	var req types.CallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		types.ErrBadRequest("invalid request body").WriteJSON(w)
		return
	}
	// The authenticated identity wins over whatever the body claims.
	req.UserID = userID

	outcome, err := h.svc.CallTool(r.Context(), &req)
	if err != nil {
		types.AsError(err).WriteJSON(w)
		return
	}
	status := http.StatusOK
	if outcome.Status == types.StatusSuspended {
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, outcome)
}

// ListPending handles GET /v1/suspensions.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.svc.ListPending()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// GetSuspension handles GET /v1/suspensions/{correlation_id}.
func (h *Handlers) GetSuspension(w http.ResponseWriter, r *http.Request) {
	call, err := h.svc.Get(chi.URLParam(r, "correlation_id"))
	if err != nil {
		types.AsError(err).WriteJSON(w)
		return
	}
	writeJSON(w, r, http.StatusOK, call)
}

type decideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Approve handles POST /v1/suspensions/{correlation_id}/approve.
func (h *Handlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, suspend.OutcomeApproved)
}

// Deny handles POST /v1/suspensions/{correlation_id}/deny.
func (h *Handlers) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, suspend.OutcomeDenied)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, outcome suspend.Outcome) {
	correlationID := chi.URLParam(r, "correlation_id")
	decider := auth.UserFromContext(r.Context())

	var body decideRequest
	if r.Body != nil {
		// Empty body is fine; reason is optional.
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	}

	call, out, err := h.svc.Decide(r.Context(), correlationID, outcome, decider, body.Reason)
	if err != nil && call == nil {
		types.AsError(err).WriteJSON(w)
		return
	}

	resp := map[string]any{
		"correlation_id": correlationID,
		"state":          call.State,
		"decided_by":     call.DecidedBy,
	}
	if len(out) > 0 {
		resp["output"] = json.RawMessage(out)
	}
	if err != nil {
		// Approved and transitioned, but the dispatch itself failed. The
		// decision stands; report the execution error alongside it.
		resp["exec_error"] = types.AsError(err)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HookEvent handles POST /v1/hooks/{source}. Authentication is the HMAC
// signature over the body, not an API key.
func (h *Handlers) HookEvent(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		types.ErrBadRequest("invalid request body").WriteJSON(w)
		return
	}

	call, duplicate, err := h.svc.HandleEvent(r.Context(), source, body,
		r.Header.Get("X-AG-Signature"), r.Header.Get("X-AG-Timestamp"))
	if err != nil {
		types.AsError(err).WriteJSON(w)
		return
	}

	resp := map[string]any{"duplicate": duplicate}
	if call != nil {
		resp["correlation_id"] = call.CorrelationID
		resp["state"] = call.State
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}
