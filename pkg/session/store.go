package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrConnectionNotFound = errors.New("connection not found")
)

// Store persists conversation snapshots between turns and across reconnects
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.ConversationState, error)
	Save(ctx context.Context, state *models.ConversationState) error
}

type memoryEntry struct {
	state     *models.ConversationState
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process memory with the same TTL
// semantics as RedisStore.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.ttl > 0 && s.now().After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return nil, ErrSessionNotFound
	}
	entry.expiresAt = s.now().Add(s.ttl)
	s.entries[sessionID] = entry
	return entry.state.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[state.SessionID] = memoryEntry{
		state:     state.Clone(),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// RedisStore keeps each snapshot as JSON at session:<id>. Loading a
// session refreshes its expiry.
type RedisStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func Key(sessionID string) string {
	return constants.SessionKeyPrefix + sessionID
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("session_load").Observe(time.Since(start).Seconds())
	}()

	raw, err := s.rdb.Get(ctx, Key(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if err := s.rdb.Expire(ctx, Key(sessionID), s.ttl).Err(); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to refresh session TTL")
	}

	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *models.ConversationState) error {
	start := time.Now()
	defer func() {
		s.metrics.RedisOperationDuration.WithLabelValues("session_save").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.SetEX(ctx, Key(state.SessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"messages":   len(state.Messages),
	}).Debug("Saved session")
	return nil
}
