package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Distinct users with at least one bound connection",
		},
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_ingested_total",
			Help: "Send submissions by outcome",
		},
		[]string{"status"}, // "accepted" or "duplicate"
	)

	BroadcastsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcasts_sent_total",
			Help: "Frames fanned out to room subscribers",
		},
	)

	ResyncRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_resync_requests_total",
			Help: "Resync requests served",
		},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_slow_consumers_dropped_total",
			Help: "Connections dropped because their send buffer filled",
		},
	)

	// Notification metrics
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_notifications_delivered_total",
			Help: "Targeted out-of-band deliveries by event",
		},
		[]string{"event"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
