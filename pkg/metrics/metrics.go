package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MessagesEnqueued        prometheus.Counter
	MessagesProcessed       *prometheus.CounterVec
	MessagesCancelled       *prometheus.CounterVec
	DuplicateMessages       *prometheus.CounterVec
	QueueDepth              prometheus.Gauge
	ActiveSessions          prometheus.Gauge
	ProcessingDuration      prometheus.Histogram
	SessionLockWaitDuration prometheus.Histogram
	HandoffsRequested       *prometheus.CounterVec
	HandoffQueueDepth       *prometheus.GaugeVec
	RedisOperationDuration  *prometheus.HistogramVec
	ActiveConnections       prometheus.Gauge
}

// NewMetrics registers all collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_enqueued_total",
			Help: "Total number of chat messages accepted into the work queue",
		}),
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_processed_total",
			Help: "Total number of chat messages that left the worker pool",
		}, []string{"status"}),
		MessagesCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_cancelled_total",
			Help: "Total number of chat messages cancelled",
		}, []string{"stage"}),
		DuplicateMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_duplicate_checks_total",
			Help: "Deduplication decisions by reason",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_queue_depth",
			Help: "Current number of messages waiting in the work queue",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_session_locks_active",
			Help: "Current number of session locks held in the lock table",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_message_processing_duration_seconds",
			Help:    "Time taken to run the workflow for one message",
			Buckets: prometheus.DefBuckets,
		}),
		SessionLockWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_session_lock_wait_duration_seconds",
			Help:    "Time a worker waited for its session turn",
			Buckets: prometheus.DefBuckets,
		}),
		HandoffsRequested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_requests_total",
			Help: "Total number of human handoff requests",
		}, []string{"priority", "reason", "status"}),
		HandoffQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handoff_queue_depth",
			Help: "Current number of queued handoff requests per priority",
		}, []string{"priority"}),
		RedisOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Time taken for Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Current number of open chat connections",
		}),
	}
}
