package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

var (
	ErrQueueFull       = errors.New("message queue is full")
	ErrStopped         = errors.New("message queue is stopped")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrNoProcessFunc   = errors.New("process function not set")
	ErrAlreadyStarted  = errors.New("message queue already started")
	errShutdownTimeout = errors.New("timed out waiting for workers to stop")
)

// ProcessFunc runs the workflow for one message while the session turn is
// held. It must call ticket.Commit before making its result visible and
// drop the result when Commit returns false.
type ProcessFunc func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error

// CompletionFunc is called once per accepted message after its session turn
// has been released.
type CompletionFunc func(resp models.MessageResponse)

type EnqueueRequest struct {
	ConnectionID string
	SessionID    string
	Text         string
	Kind         models.MessageKind
	Metadata     map[string]interface{}
	OnComplete   CompletionFunc
}

type Stats struct {
	MessagesQueued      int64   `json:"messages_queued"`
	MessagesProcessed   int64   `json:"messages_processed"`
	MessagesFailed      int64   `json:"messages_failed"`
	MessagesCancelled   int64   `json:"messages_cancelled"`
	TotalProcessingTime float64 `json:"total_processing_time"`
	AvgProcessingTime   float64 `json:"avg_processing_time"`
	QueueSize           int     `json:"queue_size"`
	InFlight            int     `json:"in_flight"`
	ActiveSessions      int     `json:"active_sessions"`
}

type trackedMessage struct {
	msg        *models.QueuedMessage
	seq        uint64
	status     models.MessageStatus
	committed  bool
	interrupt  context.CancelFunc
	onComplete CompletionFunc
}

// Manager is the bounded work queue and its worker pool
type Manager struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
	locks   *SessionLocks
	process ProcessFunc

	queue     chan *models.QueuedMessage
	enqueueMu sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once

	// lifecycleMu guards process, group and started
	lifecycleMu sync.Mutex
	group       *errgroup.Group
	started     bool

	mu      sync.Mutex
	tracked map[string]*trackedMessage
	pending int
	idle    chan struct{}
	stats   Stats
}

func NewManager(config *config.Config, logger *logrus.Logger, metrics *metrics.Metrics) *Manager {
	size := config.MaxQueueSize
	if size <= 0 {
		size = constants.DefaultMaxQueueSize
	}

	idle := make(chan struct{})
	close(idle)

	return &Manager{
		config:  config,
		logger:  logger,
		metrics: metrics,
		locks:   NewSessionLocks(),
		queue:   make(chan *models.QueuedMessage, size),
		closing: make(chan struct{}),
		tracked: make(map[string]*trackedMessage),
		idle:    idle,
	}
}

func (m *Manager) SetProcessFunc(fn ProcessFunc) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	m.process = fn
}

// Start launches the workers and the session lock reaper. Cancelling ctx
// stops them without draining; use Stop for a graceful shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.process == nil {
		return ErrNoProcessFunc
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	workers := m.config.WorkerCount
	if workers <= 0 {
		workers = constants.DefaultWorkerCount
	}

	group, gctx := errgroup.WithContext(ctx)
	m.group = group
	for i := 0; i < workers; i++ {
		workerID := i
		group.Go(func() error {
			m.worker(gctx, workerID)
			return nil
		})
	}
	group.Go(func() error {
		m.reapLoop(gctx)
		return nil
	})

	m.logger.WithFields(logrus.Fields{
		"workers":        workers,
		"max_queue_size": cap(m.queue),
	}).Info("Started message processing workers")
	return nil
}

// Stop refuses new work, lets the workers drain what is already queued and
// waits for them until ctx is done.
func (m *Manager) Stop(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closing)
		// Wait out any Enqueue that passed the closing check.
		m.enqueueMu.Lock()
		close(m.queue)
		m.enqueueMu.Unlock()
	})

	m.lifecycleMu.Lock()
	group := m.group
	m.lifecycleMu.Unlock()
	if group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		m.logger.Info("Message queue manager stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errShutdownTimeout, ctx.Err())
	}
}

// Enqueue accepts a message and returns its correlation id. A full queue
// is waited on for the configured enqueue timeout before ErrQueueFull.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyMessage
	}
	kind := req.Kind
	if kind == "" {
		kind = models.KindText
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	select {
	case <-m.closing:
		return "", ErrStopped
	default:
	}

	msg := &models.QueuedMessage{
		MessageID:    uuid.New().String(),
		SessionID:    req.SessionID,
		ConnectionID: req.ConnectionID,
		Text:         req.Text,
		Kind:         kind,
		QueuedAt:     time.Now(),
		Metadata:     metadata,
	}

	// Sequence numbers are taken under enqueueMu so that per-session turn
	// order always matches channel order.
	seq := m.locks.Reserve(msg.SessionID)
	m.track(msg, seq, req.OnComplete)

	if err := m.send(ctx, msg); err != nil {
		m.untrack(msg.MessageID)
		m.locks.Skip(msg.SessionID, seq)
		m.logger.WithError(err).WithField("session_id", msg.SessionID).Warn("Failed to enqueue message")
		return "", err
	}

	m.mu.Lock()
	m.stats.MessagesQueued++
	m.mu.Unlock()

	m.metrics.MessagesEnqueued.Inc()
	m.metrics.QueueDepth.Set(float64(len(m.queue)))
	m.metrics.ActiveSessions.Set(float64(m.locks.Len()))

	m.logger.WithFields(logrus.Fields{
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
		"queue_size": len(m.queue),
	}).Info("Message enqueued")

	return msg.MessageID, nil
}

func (m *Manager) send(ctx context.Context, msg *models.QueuedMessage) error {
	select {
	case m.queue <- msg:
		return nil
	default:
	}

	timeout := m.config.EnqueueTimeout()
	if timeout <= 0 {
		return ErrQueueFull
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m.queue <- msg:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-m.closing:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel marks a queued or processing message as cancelled. It returns false
// when the message is unknown, already finished, already cancelled, or has
// committed its result.
func (m *Manager) Cancel(messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(messageID)
}

// CancelSession cancels every queued and processing message of sessionID and
// returns how many were cancelled.
func (m *Manager) CancelSession(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, t := range m.tracked {
		if t.msg.SessionID != sessionID {
			continue
		}
		if m.cancelLocked(id) {
			count++
		}
	}

	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"cancelled":  count,
		}).Info("Cancelled session messages")
	}
	return count
}

func (m *Manager) cancelLocked(messageID string) bool {
	t, ok := m.tracked[messageID]
	if !ok || t.committed {
		return false
	}

	stage := string(t.status)
	switch t.status {
	case models.StatusQueued:
	case models.StatusProcessing:
		if m.config.InterruptInFlight && t.interrupt != nil {
			t.interrupt()
		}
	default:
		return false
	}

	t.status = models.StatusCancelled
	m.stats.MessagesCancelled++
	m.metrics.MessagesCancelled.WithLabelValues(stage).Inc()

	m.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"session_id": t.msg.SessionID,
		"stage":      stage,
	}).Info("Message cancelled")
	return true
}

// Status reports the lifecycle state of a message still owned by the queue
func (m *Manager) Status(messageID string) (models.MessageStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[messageID]
	if !ok {
		return "", false
	}
	return t.status, true
}

func (m *Manager) QueueSize() int {
	return len(m.queue)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := m.stats
	stats.InFlight = m.pending
	m.mu.Unlock()

	if stats.MessagesProcessed > 0 {
		stats.AvgProcessingTime = stats.TotalProcessingTime / float64(stats.MessagesProcessed)
	}
	stats.QueueSize = m.QueueSize()
	stats.ActiveSessions = m.locks.Len()
	return stats
}

// WaitIdle blocks until every accepted message has left the pool
func (m *Manager) WaitIdle(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) track(msg *models.QueuedMessage, seq uint64, onComplete CompletionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracked[msg.MessageID] = &trackedMessage{
		msg:        msg,
		seq:        seq,
		status:     models.StatusQueued,
		onComplete: onComplete,
	}
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
}

func (m *Manager) untrack(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[messageID]; !ok {
		return
	}
	delete(m.tracked, messageID)
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
}
