package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/models"
)

// Ticket is handed to the process function so it can atomically claim the
// right to publish its result.
type Ticket struct {
	m         *Manager
	messageID string
}

// Commit moves the message from processing to committed. It returns false
// if the message was cancelled first, in which case the caller must discard
// its result without side effects. After a successful Commit the message
// can no longer be cancelled.
func (t *Ticket) Commit() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	tm, ok := t.m.tracked[t.messageID]
	if !ok || tm.status != models.StatusProcessing {
		return false
	}
	tm.committed = true
	return true
}

// Cancelled reports whether the message has been cancelled so far
func (t *Ticket) Cancelled() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	tm, ok := t.m.tracked[t.messageID]
	return !ok || tm.status == models.StatusCancelled
}

func (m *Manager) worker(ctx context.Context, workerID int) {
	logger := m.logger.WithField("worker_id", workerID)
	logger.Debug("Worker started")
	defer logger.Debug("Worker stopped")

	for {
		select {
		case msg, ok := <-m.queue:
			if !ok {
				return
			}
			m.metrics.QueueDepth.Set(float64(len(m.queue)))
			m.handle(ctx, workerID, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handle(ctx context.Context, workerID int, msg *models.QueuedMessage) {
	start := time.Now()
	logger := m.logger.WithFields(logrus.Fields{
		"worker_id":  workerID,
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
	})

	seq, proceed := m.claim(msg.MessageID)
	if !proceed {
		logger.Info("Skipping cancelled message")
		m.locks.Skip(msg.SessionID, seq)
		m.finish(msg, models.StatusCancelled, nil, start)
		return
	}

	waitStart := time.Now()
	if err := m.locks.Acquire(ctx, msg.SessionID, seq); err != nil {
		logger.WithError(err).Warn("Gave up waiting for session turn")
		m.locks.Skip(msg.SessionID, seq)
		m.finish(msg, models.StatusFailed, err, start)
		return
	}
	m.metrics.SessionLockWaitDuration.Observe(time.Since(waitStart).Seconds())

	msgCtx, cancel, proceed := m.begin(ctx, msg.MessageID)
	if !proceed {
		cancel()
		logger.Info("Skipping message cancelled during lock wait")
		m.locks.Release(msg.SessionID, seq)
		m.finish(msg, models.StatusCancelled, nil, start)
		return
	}

	logger.Debug("Processing message")
	processStart := time.Now()
	err := m.invoke(msgCtx, msg, &Ticket{m: m, messageID: msg.MessageID})
	cancel()
	m.metrics.ProcessingDuration.Observe(time.Since(processStart).Seconds())

	m.locks.Release(msg.SessionID, seq)

	status := models.StatusCompleted
	switch {
	case m.wasCancelled(msg.MessageID):
		status = models.StatusCancelled
	case err != nil:
		status = models.StatusFailed
		logger.WithError(err).Error("Failed processing message")
	default:
		logger.WithField("duration", time.Since(start).String()).Info("Completed message")
	}

	m.finish(msg, status, err, start)
}

// claim is the pre-dispatch cancellation checkpoint
func (m *Manager) claim(messageID string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[messageID]
	if !ok {
		return 0, false
	}
	return t.seq, t.status == models.StatusQueued
}

// begin is the post-lock cancellation checkpoint. On success the message is
// processing and carries its own cancellable context.
func (m *Manager) begin(ctx context.Context, messageID string) (context.Context, context.CancelFunc, bool) {
	var msgCtx context.Context
	var cancel context.CancelFunc
	if timeout := m.config.WorkflowTimeoutDuration(); timeout > 0 {
		msgCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		msgCtx, cancel = context.WithCancel(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[messageID]
	if !ok || t.status != models.StatusQueued {
		return msgCtx, cancel, false
	}
	t.status = models.StatusProcessing
	t.interrupt = cancel
	return msgCtx, cancel, true
}

func (m *Manager) invoke(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()
	return m.process(ctx, msg, ticket)
}

func (m *Manager) wasCancelled(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[messageID]
	return ok && t.status == models.StatusCancelled
}

// finish records the outcome, stops tracking the message and calls its
// completion callback.
func (m *Manager) finish(msg *models.QueuedMessage, status models.MessageStatus, err error, start time.Time) {
	elapsed := time.Since(start)

	m.mu.Lock()
	t := m.tracked[msg.MessageID]
	switch status {
	case models.StatusCompleted:
		m.stats.MessagesProcessed++
		m.stats.TotalProcessingTime += elapsed.Seconds()
	case models.StatusFailed:
		m.stats.MessagesFailed++
	}
	m.mu.Unlock()

	m.metrics.MessagesProcessed.WithLabelValues(string(status)).Inc()

	resp := models.MessageResponse{
		MessageID:      msg.MessageID,
		SessionID:      msg.SessionID,
		Status:         status,
		ProcessingTime: elapsed,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	if t != nil && t.onComplete != nil {
		m.runCallback(t.onComplete, resp)
	}

	m.untrack(msg.MessageID)
}

func (m *Manager) runCallback(fn CompletionFunc, resp models.MessageResponse) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"message_id": resp.MessageID,
				"panic":      r,
			}).Error("Completion callback panicked")
		}
	}()
	fn(resp)
}

func (m *Manager) reapLoop(ctx context.Context) {
	ttl := m.config.SessionLockIdleTTLDuration()
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.locks.Reap(ttl); removed > 0 {
				m.logger.WithField("removed", removed).Debug("Reaped idle session locks")
			}
			m.metrics.ActiveSessions.Set(float64(m.locks.Len()))
		case <-m.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}
