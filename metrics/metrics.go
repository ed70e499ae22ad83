package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_ingested_total",
			Help: "Total number of security events ingested",
		},
		[]string{"source"},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_triggered_total",
			Help: "Total number of alert rule firings",
		},
		[]string{"severity"},
	)

	ExecutionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_playbook_executions_started_total",
			Help: "Total number of playbook executions started",
		},
		[]string{"trigger"},
	)

	ExecutionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_playbook_executions_finished_total",
			Help: "Total number of playbook executions reaching a terminal state",
		},
		[]string{"status"},
	)

	StepUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_playbook_step_updates_total",
			Help: "Total number of execution step transitions",
		},
		[]string{"status"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_playbook_execution_duration_seconds",
			Help:    "Wall-clock duration of completed playbook executions",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_notifications_sent_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"channel", "result"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"cache", "operation"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_websocket_clients",
			Help: "Number of connected dashboard WebSocket clients",
		},
	)
)
