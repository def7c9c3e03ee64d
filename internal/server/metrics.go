package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctcbeam_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctcbeam_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Decode metrics
	decodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctcbeam_decode_requests_total",
			Help: "Total number of decode requests",
		},
		[]string{"type", "status"}, // type: single, batch, websocket, websocket_batch
	)

	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctcbeam_decode_duration_seconds",
			Help:    "Decode duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"type"},
	)

	decodeTimesteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctcbeam_decode_timesteps",
			Help:    "Number of timesteps per decoded sequence",
			Buckets: []float64{0, 8, 16, 32, 64, 128, 256, 512, 1024, 4096},
		},
		[]string{"type"},
	)

	decodeSequences = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctcbeam_decode_sequences",
			Help:    "Number of sequences per decode request",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
		[]string{"type"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctcbeam_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	requestBodyBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ctcbeam_request_body_bytes",
			Help:    "Size of decode request bodies in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctcbeam_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctcbeam_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
