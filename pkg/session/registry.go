package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

// Registry maps live connections to sessions and owns the snapshot of
// each session between turns. Snapshots are only read and written by
// the worker holding the session's turn.
type Registry struct {
	store   Store
	archive Archive
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	connections map[string]string
	snapshots   map[string]*models.ConversationState
	refs        map[string]int
}

// NewRegistry builds a registry over store. archive may be nil.
func NewRegistry(store Store, archive Archive, logger *logrus.Logger, metrics *metrics.Metrics) *Registry {
	return &Registry{
		store:       store,
		archive:     archive,
		logger:      logger,
		metrics:     metrics,
		connections: make(map[string]string),
		snapshots:   make(map[string]*models.ConversationState),
		refs:        make(map[string]int),
	}
}

// Connect binds connID to a session. A requested session id that exists
// in the store is restored; anything else gets a fresh uuid.
func (r *Registry) Connect(ctx context.Context, connID, requestedSessionID string) (string, bool, error) {
	sessionID := ""
	restored := false
	var state *models.ConversationState

	if requestedSessionID != "" {
		loaded, err := r.store.Load(ctx, requestedSessionID)
		switch {
		case err == nil:
			sessionID = requestedSessionID
			state = loaded
			restored = true
		case errors.Is(err, ErrSessionNotFound):
			r.logger.WithField("session_id", requestedSessionID).Debug("Requested session not found, starting a new one")
		default:
			r.logger.WithError(err).WithField("session_id", requestedSessionID).Warn("Failed to restore session, starting a new one")
		}
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	r.mu.Lock()
	old, rebound := r.connections[connID]
	if rebound {
		r.releaseLocked(old)
	}
	r.connections[connID] = sessionID
	r.refs[sessionID]++
	if state != nil {
		if _, ok := r.snapshots[sessionID]; !ok {
			r.snapshots[sessionID] = state
		}
	}
	r.mu.Unlock()

	if !rebound {
		r.metrics.ActiveConnections.Inc()
	}
	r.logger.WithFields(logrus.Fields{
		"connection_id": connID,
		"session_id":    sessionID,
		"restored":      restored,
	}).Info("Connection bound to session")

	return sessionID, restored, nil
}

// SessionFor returns the session bound to connID
func (r *Registry) SessionFor(connID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.connections[connID]
	if !ok {
		return "", ErrConnectionNotFound
	}
	return sessionID, nil
}

// Load returns a copy of the session's state: the in-memory snapshot if
// present, then the store, then a fresh initial state when the store has
// no record. Any other store error is returned so the turn fails instead
// of committing over the stored history.
func (r *Registry) Load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	r.mu.RLock()
	snapshot, ok := r.snapshots[sessionID]
	r.mu.RUnlock()
	if ok {
		return snapshot.Clone(), nil
	}

	state, err := r.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, ErrSessionNotFound):
		return models.NewConversationState(sessionID), nil
	default:
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
}

// Save replaces the in-memory snapshot and writes through to the store
// and the archive. Only the store error is returned; archive failures
// are logged. Sessions with no bound connection are not kept in memory.
func (r *Registry) Save(ctx context.Context, state *models.ConversationState) error {
	snapshot := state.Clone()

	r.mu.Lock()
	if r.refs[state.SessionID] > 0 {
		r.snapshots[state.SessionID] = snapshot
	}
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.Archive(ctx, snapshot); err != nil {
			r.logger.WithError(err).WithField("session_id", state.SessionID).Warn("Failed to archive conversation")
		}
	}

	return r.store.Save(ctx, snapshot)
}

// Disconnect unbinds connID and drops the snapshot once no connection
// uses it. State is not written here: every committed turn is already
// persisted by Save under the session's turn.
func (r *Registry) Disconnect(ctx context.Context, connID string) error {
	r.mu.Lock()
	sessionID, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return ErrConnectionNotFound
	}
	delete(r.connections, connID)
	r.releaseLocked(sessionID)
	r.mu.Unlock()

	r.metrics.ActiveConnections.Dec()

	r.logger.WithFields(logrus.Fields{
		"connection_id": connID,
		"session_id":    sessionID,
	}).Info("Connection closed")
	return nil
}

// Connections returns the number of bound connections
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) releaseLocked(sessionID string) {
	r.refs[sessionID]--
	if r.refs[sessionID] <= 0 {
		delete(r.refs, sessionID)
		delete(r.snapshots, sessionID)
	}
}
