package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

// RedisStore keeps each tier in a list at handoff_queue:<priority> and each
// record at handoff:<id> with the retention as expiry.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, retention time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		retention: retention,
		logger:    logger,
		metrics:   metrics,
	}
}

func QueueKey(priority models.HandoffPriority) string {
	return constants.HandoffQueueKeyPrefix + string(priority)
}

func RecordKey(handoffID string) string {
	return constants.HandoffRecordKeyPrefix + handoffID
}

func (s *RedisStore) Push(ctx context.Context, req *models.HandoffRequest) (int64, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("handoff_push").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode handoff: %w", err)
	}

	// Append and record in one round trip so a queued id is always resolvable
	pipe := s.rdb.TxPipeline()
	push := pipe.RPush(ctx, QueueKey(req.Priority), payload)
	pipe.SetEX(ctx, RecordKey(req.HandoffID), payload, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: failed to push handoff: %v", ErrStoreUnavailable, err)
	}

	return push.Val(), nil
}

func (s *RedisStore) Pop(ctx context.Context, priority models.HandoffPriority) (*models.HandoffRequest, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("handoff_pop").Observe(time.Since(start).Seconds())
	}()

	raw, err := s.rdb.LPop(ctx, QueueKey(priority)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to pop handoff: %v", ErrStoreUnavailable, err)
	}

	var req models.HandoffRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.WithError(err).WithField("priority", priority).Error("Dropping undecodable handoff entry")
		return nil, fmt.Errorf("failed to decode handoff: %w", err)
	}
	return &req, nil
}

func (s *RedisStore) Save(ctx context.Context, req *models.HandoffRequest) error {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("handoff_save").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode handoff: %w", err)
	}
	if err := s.rdb.SetEX(ctx, RecordKey(req.HandoffID), payload, s.retention).Err(); err != nil {
		return fmt.Errorf("%w: failed to save handoff: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, handoffID string) (*models.HandoffRequest, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("handoff_get").Observe(time.Since(start).Seconds())
	}()

	raw, err := s.rdb.Get(ctx, RecordKey(handoffID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrHandoffNotFound
		}
		return nil, fmt.Errorf("%w: failed to get handoff: %v", ErrStoreUnavailable, err)
	}

	var req models.HandoffRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("failed to decode handoff: %w", err)
	}
	return &req, nil
}

func (s *RedisStore) Len(ctx context.Context, priority models.HandoffPriority) (int64, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("handoff_len").Observe(time.Since(start).Seconds())
	}()

	n, err := s.rdb.LLen(ctx, QueueKey(priority)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get handoff queue length: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
