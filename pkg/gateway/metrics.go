package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_calls_total",
		Help: "Tool calls by outcome (ok, error, suspended).",
	}, []string{"tool", "status"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_decisions_total",
		Help: "Decisions on suspended calls by outcome.",
	}, []string{"outcome"})

	resumesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_resumes_total",
		Help: "Resumed dispatches by result (ok, error).",
	}, []string{"result"})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongate_webhook_events_total",
		Help: "Inbound webhook events by source and disposition.",
	}, []string{"source", "disposition"})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actiongate_expired_total",
		Help: "Suspended calls expired by the sweeper.",
	})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "actiongate_call_duration_seconds",
		Help:    "Adapter execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)
