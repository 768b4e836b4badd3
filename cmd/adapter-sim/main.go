// adapter-sim is a stub remote adapter: it serves the /tools and /exec
// contract with canned responses, for local development and integration
// tests of the remote adapter kind.
package main

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/config"
)

var simTools = []adapter.ToolDescriptor{
	{
		Name:        "echo",
		Description: "Return the arguments unchanged.",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	},
	{
		Name:          "wire_funds",
		Description:   "Pretend to wire money. Consequential on purpose.",
		InputSchema:   json.RawMessage(`{"type":"object","properties":{"amount":{"type":"number"},"transfer_id":{"type":"string"}},"required":["amount","transfer_id"]}`),
		Consequential: true,
		EventSource:   "sim-bank",
		EventKey:      "transfer_id",
	},
}

type execResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	addr := config.EnvOr("ADAPTER_SIM_ADDR", ":8099")
	internalToken := os.Getenv("INTERNAL_AUTH_TOKEN")

	checkToken := func(w http.ResponseWriter, r *http.Request) bool {
		if internalToken == "" {
			return true
		}
		got := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(internalToken)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		if !checkToken(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(simTools); err != nil {
			log.Error("tools encode failed", "error", err)
		}
	})
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		if !checkToken(w, r) {
			return
		}
		var req adapter.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		log.Info("exec", "tool", req.Tool, "user_id", req.UserID, "correlation_id", req.CorrelationID)

		var resp execResponse
		switch req.Tool {
		case "echo":
			resp = execResponse{Status: "success", Output: req.Arguments}
		case "wire_funds":
			out, _ := json.Marshal(map[string]any{"wired": true, "mock": true})
			resp = execResponse{Status: "success", Output: out}
		default:
			resp = execResponse{Status: "error", Error: "unknown tool " + req.Tool}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("exec encode failed", "error", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	log.Info("adapter-sim starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
