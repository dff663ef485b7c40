package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/metrics"
)

// RedisSink keeps the last entries per agent per day in a capped list
// and running totals per agent in a hash.
type RedisSink struct {
	rdb     *redis.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRedisSink(rdb *redis.Client, logger *logrus.Logger, metrics *metrics.Metrics) *RedisSink {
	return &RedisSink{
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// DailyKey is the list holding agent's entries for the UTC day of t
func DailyKey(agent string, t time.Time) string {
	return fmt.Sprintf("%s%s:%s", constants.AgentMetricsKeyPrefix, agent, t.UTC().Format("20060102"))
}

func StatsKey(agent string) string {
	return constants.AgentStatsKeyPrefix + agent
}

type entry struct {
	Timestamp      string  `json:"timestamp"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	SessionID      string  `json:"session_id"`
	MessageID      string  `json:"message_id,omitempty"`
	Intent         string  `json:"intent"`
	Confidence     float64 `json:"confidence"`
	Success        bool    `json:"success"`
}

func (s *RedisSink) RecordResponse(ctx context.Context, r Record) error {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("analytics_record").Observe(time.Since(start).Seconds())
	}()

	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	intent := r.Intent
	if intent == "" {
		intent = "unknown"
	}

	payload, err := json.Marshal(entry{
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		ResponseTimeMS: durationMS(r.ResponseTime),
		SessionID:      r.SessionID,
		MessageID:      r.MessageID,
		Intent:         intent,
		Confidence:     r.Confidence,
		Success:        r.Success,
	})
	if err != nil {
		return fmt.Errorf("failed to encode analytics entry: %w", err)
	}

	dailyKey := DailyKey(r.Agent, ts)
	statsKey := StatsKey(r.Agent)
	outcome := "successful_requests"
	if !r.Success {
		outcome = "failed_requests"
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, dailyKey, payload)
		pipe.LTrim(ctx, dailyKey, 0, constants.AgentMetricsMaxEntries-1)
		pipe.Expire(ctx, dailyKey, constants.AgentMetricsRetention)
		pipe.HIncrBy(ctx, statsKey, "total_requests", 1)
		pipe.HIncrBy(ctx, statsKey, outcome, 1)
		pipe.HIncrByFloat(ctx, statsKey, "total_response_time_ms", durationMS(r.ResponseTime))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record agent response: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"agent":      r.Agent,
		"session_id": r.SessionID,
		"success":    r.Success,
	}).Debug("Recorded agent response")
	return nil
}

func (s *RedisSink) AgentStats(ctx context.Context, agent string) (AgentStats, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("analytics_stats").Observe(time.Since(start).Seconds())
	}()

	raw, err := s.rdb.HGetAll(ctx, StatsKey(agent)).Result()
	if err != nil {
		return AgentStats{}, fmt.Errorf("failed to read agent stats: %w", err)
	}

	stats := AgentStats{Agent: agent}
	stats.TotalRequests, _ = strconv.ParseInt(raw["total_requests"], 10, 64)
	stats.SuccessfulRequests, _ = strconv.ParseInt(raw["successful_requests"], 10, 64)
	stats.FailedRequests, _ = strconv.ParseInt(raw["failed_requests"], 10, 64)
	stats.TotalResponseTimeMS, _ = strconv.ParseFloat(raw["total_response_time_ms"], 64)
	stats.derive()
	return stats, nil
}

// Recent returns up to n of agent's newest entries for the UTC day of t
func (s *RedisSink) Recent(ctx context.Context, agent string, t time.Time, n int64) ([]Record, error) {
	raw, err := s.rdb.LRange(ctx, DailyKey(agent, t), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent entries: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var e entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.WithError(err).WithField("agent", agent).Warn("Skipping malformed analytics entry")
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, e.Timestamp)
		records = append(records, Record{
			Agent:        agent,
			SessionID:    e.SessionID,
			MessageID:    e.MessageID,
			Intent:       e.Intent,
			Confidence:   e.Confidence,
			ResponseTime: time.Duration(e.ResponseTimeMS * float64(time.Millisecond)),
			Success:      e.Success,
			Timestamp:    ts,
		})
	}
	return records, nil
}
