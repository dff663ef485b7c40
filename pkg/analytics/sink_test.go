package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-dispatcher/pkg/metrics"
)

func TestMemorySink_Aggregates(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.RecordResponse(ctx, Record{Agent: "sales", ResponseTime: 100 * time.Millisecond, Success: true}))
	require.NoError(t, sink.RecordResponse(ctx, Record{Agent: "sales", ResponseTime: 300 * time.Millisecond, Success: false}))

	stats, err := sink.AgentStats(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 200.0, stats.AvgResponseTimeMS, 1e-9)

	empty, err := sink.AgentStats(ctx, "marketing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalRequests)
	assert.Equal(t, 0.0, empty.SuccessRate)
}

func TestDailyKey(t *testing.T) {
	ts := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "metrics:agent:support:20240309", DailyKey("support", ts))
	assert.Equal(t, "stats:agent:support", StatsKey("support"))
}

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}

	rdb.FlushDB(context.Background())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisSink_RecordAndStats(t *testing.T) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	sink := NewRedisSink(rdb, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()
	ts := time.Now()

	require.NoError(t, sink.RecordResponse(ctx, Record{
		Agent: "support", SessionID: "s1", MessageID: "m1", Intent: "support",
		Confidence: 0.8, ResponseTime: 50 * time.Millisecond, Success: true, Timestamp: ts,
	}))
	require.NoError(t, sink.RecordResponse(ctx, Record{
		Agent: "support", SessionID: "s1", MessageID: "m2",
		ResponseTime: 150 * time.Millisecond, Success: false, Timestamp: ts,
	}))

	stats, err := sink.AgentStats(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.InDelta(t, 100.0, stats.AvgResponseTimeMS, 1e-6)

	recent, err := sink.Recent(ctx, "support", ts, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m2", recent[0].MessageID)
	assert.Equal(t, "unknown", recent[0].Intent)
	assert.Equal(t, "m1", recent[1].MessageID)

	ttl, err := rdb.TTL(ctx, DailyKey("support", ts)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 6*24*time.Hour)
}
