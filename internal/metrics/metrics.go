// Package metrics provides Prometheus instrumentation for the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c3po_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "c3po_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Business metrics. The transport updates MessagesSentTotal,
// WaitersBlocked, RateLimitDenialsTotal and AuthFailuresTotal. Nothing in
// the coordinator sets AgentsOnline, AgentsRegistered,
// MessagesPendingSample or RegistrationOutcomesTotal; they stay at zero.
var (
	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c3po_agents_online",
		Help: "Number of agents currently within the heartbeat TTL.",
	})

	AgentsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c3po_agents_registered",
		Help: "Number of agent records currently known to the registry, online or offline.",
	})

	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c3po_messages_sent_total",
		Help: "Total number of messages successfully enqueued.",
	})

	MessagesPendingSample = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c3po_messages_pending_sample",
		Help: "Sampled count of unacknowledged messages across all inboxes.",
	})

	WaitersBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c3po_waiters_blocked",
		Help: "Number of requests currently blocked in a long-poll wait.",
	})

	RateLimitDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c3po_rate_limit_denials_total",
		Help: "Total number of requests denied by the rate limiter, by operation.",
	}, []string{"operation"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c3po_auth_failures_total",
		Help: "Total number of authentication failures, by trust domain.",
	}, []string{"domain"})

	RegistrationOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c3po_registration_outcomes_total",
		Help: "Total number of Register calls, by outcome.",
	}, []string{"outcome"})
)
