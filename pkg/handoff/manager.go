package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

// Manager routes escalations from the bot to human operators.
// Requests are served strictly by tier, critical first, FIFO within a tier.
type Manager struct {
	store   Store
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewManager(store Store, config *config.Config, logger *logrus.Logger, metrics *metrics.Metrics) *Manager {
	return &Manager{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// NewHandoffID builds HO-<utc yyyymmddhhmmss>-<first 8 chars of session>-<random suffix>.
// The suffix keeps ids unique within the same second and across sessions
// sharing a prefix.
func NewHandoffID(sessionID string, at time.Time) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("HO-%s-%s-%s", at.UTC().Format("20060102150405"), prefix, uuid.New().String()[:8])
}

// RequestHandoff queues req for a human operator. It never returns an
// error: a store failure yields a failed result with an empty handoff id.
func (m *Manager) RequestHandoff(ctx context.Context, req models.HandoffRequest) models.HandoffResult {
	if _, err := models.ParsePriority(string(req.Priority)); err != nil {
		req.Priority = models.PriorityMedium
	}

	now := m.now()
	req.HandoffID = NewHandoffID(req.SessionID, now)
	req.CreatedAt = now.UTC()
	req.Status = models.HandoffQueued
	req.AssignedTo = ""
	req.AssignedAt = nil

	logger := m.logger.WithFields(logrus.Fields{
		"handoff_id": req.HandoffID,
		"session_id": req.SessionID,
		"priority":   req.Priority,
		"reason":     req.Reason,
	})

	position, err := m.store.Push(ctx, &req)
	if err != nil {
		logger.WithError(err).Error("Failed to request handoff")
		m.metrics.HandoffsRequested.WithLabelValues(string(req.Priority), string(req.Reason), string(models.HandoffFailed)).Inc()
		return models.HandoffResult{
			Status:  models.HandoffFailed,
			Message: "Handoff service unavailable",
		}
	}

	m.metrics.HandoffsRequested.WithLabelValues(string(req.Priority), string(req.Reason), string(models.HandoffQueued)).Inc()
	m.metrics.HandoffQueueDepth.WithLabelValues(string(req.Priority)).Set(float64(position))

	wait := constants.EstimateHandoffWait(position, m.config.HandoffWaitPerPositionDuration())
	logger.WithFields(logrus.Fields{
		"queue_position": position,
		"estimated_wait": wait.String(),
	}).Info("Handoff requested")

	return models.HandoffResult{
		HandoffID:         req.HandoffID,
		QueuePosition:     position,
		EstimatedWaitTime: wait,
		Status:            models.HandoffQueued,
		Message:           fmt.Sprintf("Your request has been queued for a human agent. Queue position: %d", position),
	}
}

// GetNext pops the oldest request of the most urgent non-empty tier and
// assigns it to operatorID. It returns nil when every tier is empty.
func (m *Manager) GetNext(ctx context.Context, operatorID string) (*models.HandoffRequest, error) {
	for _, priority := range models.PrioritiesByUrgency {
		req, err := m.store.Pop(ctx, priority)
		if err != nil {
			return nil, fmt.Errorf("failed to get next handoff: %w", err)
		}
		if req == nil {
			continue
		}
		m.metrics.HandoffQueueDepth.WithLabelValues(string(priority)).Dec()

		assignedAt := m.now().UTC()
		req.Status = models.HandoffAssigned
		req.AssignedTo = operatorID
		req.AssignedAt = &assignedAt

		logger := m.logger.WithFields(logrus.Fields{
			"handoff_id":  req.HandoffID,
			"operator_id": operatorID,
			"priority":    priority,
		})
		if err := m.store.Save(ctx, req); err != nil {
			// The request is already off the queue; hand it out anyway.
			logger.WithError(err).Warn("Failed to persist handoff assignment")
		}

		logger.Info("Handoff assigned")
		return req, nil
	}

	return nil, nil
}

// Get returns a retained handoff record, queued or assigned
func (m *Manager) Get(ctx context.Context, handoffID string) (*models.HandoffRequest, error) {
	return m.store.Get(ctx, handoffID)
}

func (m *Manager) Stats(ctx context.Context) (models.HandoffQueueStats, error) {
	stats := models.HandoffQueueStats{
		ByPriority: make(map[models.HandoffPriority]int64, len(models.PrioritiesByUrgency)),
	}

	for _, priority := range models.PrioritiesByUrgency {
		n, err := m.store.Len(ctx, priority)
		if err != nil {
			return models.HandoffQueueStats{}, fmt.Errorf("failed to get handoff queue stats: %w", err)
		}
		stats.ByPriority[priority] = n
		stats.TotalQueued += n
		m.metrics.HandoffQueueDepth.WithLabelValues(string(priority)).Set(float64(n))
	}

	return stats, nil
}

// CheckHandoffNeeded applies the escalation policy to a processed turn
func (m *Manager) CheckHandoffNeeded(state *models.ConversationState, sentiment *models.Sentiment) (bool, models.HandoffReason, models.HandoffPriority) {
	return CheckHandoffNeeded(state, sentiment)
}
