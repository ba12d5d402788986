package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_live_connections",
			Help: "Currently registered websocket connections",
		},
	)

	HandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_handshake_rejections_total",
			Help: "Websocket handshakes refused during authentication",
		},
		[]string{"reason"},
	)

	// Messaging metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_persisted_total",
			Help: "Private messages durably stored",
		},
		[]string{"type"}, // "text" or "image"
	)

	SendRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_send_rejections_total",
			Help: "Inbound sends dropped before fan-out",
		},
		[]string{"reason"},
	)

	FanoutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_fanout_deliveries_total",
			Help: "Events enqueued onto live connections",
		},
	)

	FanoutDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_fanout_drops_total",
			Help: "Events dropped because a connection's send buffer was full",
		},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_uploads_total",
			Help: "Chat image uploads",
		},
		[]string{"result"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
