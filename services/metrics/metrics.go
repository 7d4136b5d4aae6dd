package metricsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shule_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shule_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shule_messages_sent_total",
			Help: "Total direct messages sent",
		},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shule_read_receipts_total",
			Help: "Total mark-as-read requests",
		},
	)

	MessageDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shule_message_deletions_total",
			Help: "Total message deletions",
		},
		[]string{"scope"}, // "self" or "everyone"
	)

	SyncRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shule_sync_refreshes_total",
			Help: "Total message-set refreshes served to polling clients",
		},
	)
)
