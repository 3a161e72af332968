package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimble_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_messages_stored_total",
			Help: "Total chat messages stored",
		},
		[]string{"sender"},
	)

	TokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_token_exchanges_total",
			Help: "WhatsApp OAuth code exchanges",
		},
		[]string{"result"}, // "ok", "graph_error", "store_error"
	)

	// WebSocket metrics
	SocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_socket_events_total",
			Help: "WebSocket router events by route",
		},
		[]string{"route"},
	)

	SocketPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_socket_pushes_total",
			Help: "Frames pushed to WebSocket connections",
		},
		[]string{"result"}, // "ok", "gone", "error"
	)

	StaleConnectionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimble_stale_connections_pruned_total",
			Help: "Connection records deleted after a gone push",
		},
	)

	ClientReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_client_reconnects_total",
			Help: "WebSocket client reconnect attempts",
		},
		[]string{"result"}, // "ok", "failed", "exhausted"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimble_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimble_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimble_backend_latency_seconds",
			Help:    "Latency of proxied calls to the chat backend",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"},
	)
)
