package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStartedTotal tracks interview sessions entering Active state
	SessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_sessions_started_total",
			Help: "Total number of interview sessions started",
		},
		[]string{"mode"}, // "capi" or "cati"
	)

	// SessionsClosedTotal tracks terminal session outcomes
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_sessions_closed_total",
			Help: "Total number of interview sessions reaching a terminal state",
		},
		[]string{"mode", "outcome"}, // outcome: "completed" or "abandoned"
	)

	// LocationStrategyTotal tracks geolocation fallback chain outcomes
	LocationStrategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "location_strategy_attempts_total",
			Help: "Location acquisition attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// AudioUploadFailuresTotal tracks best-effort audio uploads that failed
	AudioUploadFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audio_upload_failures_total",
			Help: "Total number of failed audio evidence uploads",
		},
	)

	// QuotaRejectionsTotal tracks responses rejected by demographic quotas
	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Total number of responses rejected by demographic quota gating",
		},
		[]string{"bucket"},
	)

	// HTTPRequestDuration tracks HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// MonitorConnectionStatus tracks the monitor's event stream connection (1=connected, 0=disconnected)
	MonitorConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_connection_status",
			Help: "Whether the session monitor is connected to the event stream (1=connected, 0=disconnected)",
		},
	)

	// MonitorSnapshotsProcessed tracks snapshots consumed from the event stream
	MonitorSnapshotsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_snapshots_processed_total",
			Help: "Total number of session snapshots processed by the monitor",
		},
		[]string{"state", "status"},
	)

	// MonitorReconnects tracks event stream reconnection attempts
	MonitorReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_reconnects_total",
			Help: "Total number of event stream reconnection attempts",
		},
	)
)

// RegisterMetrics registers all Prometheus metrics
// This is called during application startup
func RegisterMetrics() {
	// Metrics are auto-registered via promauto, but we keep this function
	// for consistency and future manual registration if needed
}
