package handoff

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
	"support-chat-dispatcher/pkg/models"
)

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use test database
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

func TestRedisStore_QueueAndRecords(t *testing.T) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := NewRedisStore(rdb, 24*time.Hour, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	m := newTestManager(store)
	ctx := context.Background()

	low := m.RequestHandoff(ctx, request("s-low", models.PriorityLow))
	high := m.RequestHandoff(ctx, request("s-high", models.PriorityHigh))
	require.True(t, low.Queued())
	require.True(t, high.Queued())
	assert.Equal(t, int64(1), high.QueuePosition)

	ttl, err := rdb.TTL(ctx, RecordKey(high.HandoffID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)

	next, err := m.GetNext(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "s-high", next.SessionID)

	stored, err := m.Get(ctx, high.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, models.HandoffAssigned, stored.Status)
	assert.Equal(t, "op-1", stored.AssignedTo)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalQueued)

	_, err = m.Get(ctx, "HO-missing")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}
