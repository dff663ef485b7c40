package constants

import "time"

// Worker pool and queue defaults
const (
	// DefaultWorkerCount - Number of concurrent message workers
	DefaultWorkerCount = 5

	// DefaultMaxQueueSize - Capacity of the bounded work queue
	DefaultMaxQueueSize = 1000

	// DefaultEnqueueTimeoutMS - How long Enqueue waits on a full queue before reporting busy
	DefaultEnqueueTimeoutMS = 2000

	// DefaultSessionLockIdleTTLSeconds - Idle time after which a session lock is reaped
	DefaultSessionLockIdleTTLSeconds = 600
)

// Deduplication defaults
const (
	// DefaultDedupWindowSeconds - Same text inside this window is a duplicate
	DefaultDedupWindowSeconds = 30

	// DefaultDedupCleanupIntervalSeconds - Minimum spacing between record sweeps
	DefaultDedupCleanupIntervalSeconds = 300

	// DefaultDedupHistoryPerSession - Recent records kept per session
	DefaultDedupHistoryPerSession = 10

	// DedupRetentionMultiplier - Records older than window*multiplier are swept
	DedupRetentionMultiplier = 2

	// DedupPreviewLength - Runes of original text kept for diagnostics
	DedupPreviewLength = 100
)

// Escalation defaults
const (
	// DefaultHandoffWaitPerPositionSeconds - Estimated operator time per queued request
	DefaultHandoffWaitPerPositionSeconds = 300

	// DefaultHandoffRetentionSeconds - Retention of handoff records for audit
	DefaultHandoffRetentionSeconds = 86400

	// LowConfidenceThreshold - Intent confidence below this escalates
	LowConfidenceThreshold = 0.3

	// RepeatedFailureHandoffs - Agent handoffs in one conversation that count as a failure loop
	RepeatedFailureHandoffs = 3
)

// Session defaults
const (
	// DefaultSessionTTLSeconds - Expiry of persisted session snapshots
	DefaultSessionTTLSeconds = 86400

	// DefaultConnectionRatePerSecond - Inbound messages allowed per connection per second
	DefaultConnectionRatePerSecond = 5

	// DefaultConnectionRateBurst - Inbound burst allowed per connection
	DefaultConnectionRateBurst = 10
)

// Redis key prefixes and names
const (
	HandoffQueueKeyPrefix  = "handoff_queue:"
	HandoffRecordKeyPrefix = "handoff:"
	SessionKeyPrefix       = "session:"
	AgentMetricsKeyPrefix  = "metrics:agent:"
	AgentStatsKeyPrefix    = "stats:agent:"
	AgentMetricsMaxEntries = 1000
	AgentMetricsRetention  = 7 * 24 * time.Hour
)

// Configuration environment variable names
const (
	EnvWorkerCount             = "WORKER_COUNT"
	EnvMaxQueueSize            = "MAX_QUEUE_SIZE"
	EnvEnqueueTimeoutMS        = "ENQUEUE_TIMEOUT_MS"
	EnvDedupWindow             = "DEDUP_WINDOW_SECONDS"
	EnvDedupCleanupInterval    = "DEDUP_CLEANUP_INTERVAL_SECONDS"
	EnvDedupHistoryPerSession  = "DEDUP_HISTORY_PER_SESSION"
	EnvHandoffWaitPerPosition  = "HANDOFF_WAIT_PER_POSITION_SECONDS"
	EnvHandoffRetention        = "HANDOFF_RETENTION_SECONDS"
	EnvSessionTTL              = "SESSION_TTL_SECONDS"
	EnvSessionLockIdleTTL      = "SESSION_LOCK_IDLE_TTL_SECONDS"
	EnvWorkflowTimeout         = "WORKFLOW_TIMEOUT_SECONDS"
	EnvInterruptInFlight       = "INTERRUPT_IN_FLIGHT"
	EnvConnectionRatePerSecond = "CONNECTION_RATE_PER_SECOND"
	EnvConnectionRateBurst     = "CONNECTION_RATE_BURST"
)

// SecondsToDuration converts a whole number of seconds to a time.Duration
func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// EstimateHandoffWait returns the static wait estimate for a queue position
func EstimateHandoffWait(position int64, perPosition time.Duration) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * perPosition
}
