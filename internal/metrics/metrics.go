package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Broker metrics
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_logins_total",
			Help: "Total login attempts by role and result code",
		},
		[]string{"role", "code"},
	)

	RoomsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_rooms_opened_total",
			Help: "Total rooms created",
		},
	)

	RoomsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_rooms_closed_total",
			Help: "Total rooms deleted by end of chat",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_messages_relayed_total",
			Help: "Total messages published to room channels",
		},
		[]string{"role"},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_messages_persisted_total",
			Help: "Total messages written to room logs by listeners",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskchat_persist_failures_total",
			Help: "Total listener failures to persist or receive a message",
		},
	)

	ActiveListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskchat_active_listeners",
			Help: "Room listeners currently running",
		},
	)

	TranscriptsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_transcripts_archived_total",
			Help: "Transcript archive attempts by outcome",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskchat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deskchat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
