package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_gateway_requests_total",
		Help: "Gateway REST requests by endpoint and outcome class",
	}, []string{"endpoint", "class"})

	GatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_gateway_retries_total",
		Help: "Retried gateway attempts by trigger (throttled, server_error, transport)",
	}, []string{"trigger"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topstep_gateway_latency_seconds",
		Help:    "Gateway request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_ratelimit_waits_total",
		Help: "Times a request had to wait for a rate-limit slot",
	}, []string{"lane"})

	AuthLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_auth_logins_total",
		Help: "Login attempts against the gateway by result",
	}, []string{"result"})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topstep_feed_reconnects_total",
		Help: "Realtime feed reconnect cycles",
	})

	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_feed_events_total",
		Help: "Normalized realtime events delivered by type",
	}, []string{"type"})

	FeedDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_feed_dropped_total",
		Help: "Realtime events dropped during normalization",
	}, []string{"type"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_risk_rejects_total",
		Help: "Risk governor denials by reason",
	}, []string{"reason"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topstep_orders_total",
		Help: "Orders submitted to the gateway by status and side",
	}, []string{"status", "side"})
)
