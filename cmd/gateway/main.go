// Gateway is the single entrypoint for AI agent tool-call requests. It
// routes ordinary calls to adapters, suspends consequential ones until a
// human or an external event decides them, and resumes each approved call
// exactly once.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentictrust/actiongate/pkg/adapter"
	"github.com/agentictrust/actiongate/pkg/adapters/ms365"
	"github.com/agentictrust/actiongate/pkg/adapters/rightfind"
	"github.com/agentictrust/actiongate/pkg/auth"
	"github.com/agentictrust/actiongate/pkg/config"
	"github.com/agentictrust/actiongate/pkg/correlate"
	"github.com/agentictrust/actiongate/pkg/credentials"
	"github.com/agentictrust/actiongate/pkg/gateway"
	"github.com/agentictrust/actiongate/pkg/host"
	agOtel "github.com/agentictrust/actiongate/pkg/otel"
	"github.com/agentictrust/actiongate/pkg/registry"
	"github.com/agentictrust/actiongate/pkg/suspend"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelShutdown, err := agOtel.Setup(ctx, agOtel.Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", "actiongate"),
		OTLPEndpoint:   otelEndpoint,
		MetricsEnabled: true,
		TracingEnabled: otelEndpoint != "",
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Config ───────────────────────────────────────────────────────────
	safeRoot := config.EnvOr("AG_SAFE_ROOT", "./config")
	manifest, err := config.LoadManifest(config.EnvOr("AG_CONFIG", "./config/gateway.yaml"), safeRoot)
	if err != nil {
		log.Error("manifest load failed", "error", err)
		os.Exit(1)
	}

	// ── Postgres (optional; in-memory when absent) ───────────────────────
	var pool *pgxpool.Pool
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	var (
		journal    suspend.Journal = suspend.NopJournal{}
		index      correlate.Index = correlate.NewMemoryIndex()
		outbox     gateway.OutboxStore
		grantStore credentials.Store
	)
	if pool != nil {
		journal = suspend.NewPgJournal(pool)
		index = correlate.NewPgIndex(pool)
		outbox = gateway.NewPgOutbox(pool)
		grantStore = credentials.NewPgStore(pool)
	} else {
		log.Warn("DATABASE_URL not set; suspensions will not survive a restart")
		outbox = gateway.NewMemoryOutbox()
		grantStore = credentials.NewMemoryStore()
	}

	// ── Credential broker ────────────────────────────────────────────────
	providers := make([]credentials.Provider, 0, len(manifest.Providers))
	for _, p := range manifest.Providers {
		providers = append(providers, credentials.Provider{
			Name:         p.Name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
			Scopes:       p.Scopes,
			Exchange:     p.Exchange,
			Audience:     p.Audience,
		})
	}
	broker := credentials.NewBroker(providers, grantStore, log)

	// ── Adapter host ─────────────────────────────────────────────────────
	factories := map[string]host.Factory{
		"rightfind": rightfind.New,
		"ms365":     ms365.New,
	}
	h := host.New(safeRoot, factories, broker, log)
	reg := registry.New()
	for _, spec := range manifest.Adapters {
		if err := h.Load(ctx, spec); err != nil {
			log.Error("adapter load failed", "adapter_id", spec.ID, "error", err)
			continue
		}
		rec, _ := h.Get(spec.ID)
		if err := reg.Register(spec.ID, rec.Tools); err != nil {
			log.Error("tool registration failed", "adapter_id", spec.ID, "error", err)
			h.Unload(spec.ID)
		}
	}

	// ── Suspension engine ────────────────────────────────────────────────
	engine := suspend.NewEngine(journal,
		suspend.DispatcherFunc(func(ctx context.Context, call *suspend.PendingCall) (json.RawMessage, error) {
			return h.Execute(ctx, call.AdapterID, adapter.ExecRequest{
				Tool:          call.Tool,
				Arguments:     call.Arguments,
				UserID:        call.UserID,
				CorrelationID: call.CorrelationID,
			})
		}),
		log,
		suspend.WithTTL(time.Duration(config.EnvOrInt("AG_APPROVAL_TTL_HOURS", 24))*time.Hour),
	)
	if n, err := engine.Restore(ctx); err != nil {
		log.Error("journal restore failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		log.Info("restored open suspensions", "count", n)
	}
	if n := engine.RedriveApproved(ctx); n > 0 {
		log.Info("resumed approved suspensions left over from shutdown", "count", n)
	}

	// ── Event correlation ────────────────────────────────────────────────
	sources := make([]correlate.Source, 0, len(manifest.Sources))
	secrets := map[string]string{}
	for _, s := range manifest.Sources {
		sources = append(sources, correlate.Source{
			Name:         s.Name,
			Secret:       s.Secret,
			KeyField:     s.KeyField,
			OutcomeField: s.OutcomeField,
			DenyValues:   s.DenyValues,
		})
		secrets[s.Name] = s.Secret
	}
	if ref := manifest.Notify.SecretRef; ref != "" {
		secrets[ref] = config.EnvOr("AG_NOTIFY_SECRET", secrets[ref])
	}
	router := correlate.NewRouter(sources, index, log)

	// ── Service ──────────────────────────────────────────────────────────
	svc := gateway.NewService(reg, h, engine, index, outbox,
		gateway.NewDecisionAuthorizer(os.Getenv("AG_APPROVERS")),
		log,
		gateway.WithEventRouter(router),
		gateway.WithNotifyTarget(manifest.Notify.URL, manifest.Notify.SecretRef),
	)
	notifier := gateway.NewNotifier(outbox, config.EnvOr("AG_EVENT_SOURCE", "https://actiongate.local"), secrets, log)

	// ── Background schedules ─────────────────────────────────────────────
	sched := cron.New(cron.WithSeconds())
	if _, err := sched.AddFunc("*/30 * * * * *", func() { svc.Sweep(ctx) }); err != nil {
		log.Error("sweep schedule failed", "error", err)
		os.Exit(1)
	}
	if _, err := sched.AddFunc("*/5 * * * * *", func() {
		if err := notifier.DispatchOnce(ctx); err != nil {
			log.Error("notification dispatch failed", "error", err)
		}
	}); err != nil {
		log.Error("notifier schedule failed", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// ── Router ───────────────────────────────────────────────────────────
	handlers := gateway.NewHandlers(svc, log, config.EnvOrInt("RATE_LIMIT_PER_USER", 100), func() bool {
		if pool == nil {
			return true
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer pingCancel()
		return pool.Ping(pingCtx) == nil
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Logger)
	keys := auth.NewKeyStore(os.Getenv("API_KEYS"))
	if keys.Empty() {
		log.Warn("API_KEYS not set; every authenticated endpoint will reject requests")
	}
	r.Use(auth.APIKeyAuth(keys))
	handlers.Mount(r)

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}
