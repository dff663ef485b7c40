package session

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
		DB:   2,
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

func TestRedisStore_SaveLoad(t *testing.T) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := NewRedisStore(rdb, time.Hour, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	_, err := store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	state := models.NewConversationState("s1")
	require.NoError(t, state.AppendMessage(models.ChatMessage{Role: models.RoleUser, Content: "hi"}))
	state.Context["last_sentiment"] = "neutral"
	require.NoError(t, store.Save(ctx, state))

	ttl, err := rdb.TTL(ctx, Key("s1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "hi", loaded.Messages[0].Content)
	assert.Equal(t, "neutral", loaded.Context["last_sentiment"])
}

func TestRedisStore_LoadRefreshesTTL(t *testing.T) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := NewRedisStore(rdb, time.Hour, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, models.NewConversationState("s1")))
	require.NoError(t, rdb.Expire(ctx, Key("s1"), time.Minute).Err())

	_, err := store.Load(ctx, "s1")
	require.NoError(t, err)

	ttl, err := rdb.TTL(ctx, Key("s1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}
