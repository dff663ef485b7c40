package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/analytics"
	"support-chat-dispatcher/pkg/dedup"
	"support-chat-dispatcher/pkg/handoff"
	"support-chat-dispatcher/pkg/queue"
	"support-chat-dispatcher/pkg/session"
)

// Handler serves the operator and monitoring endpoints
type Handler struct {
	queue     *queue.Manager
	dedup     *dedup.Filter
	handoffs  *handoff.Manager
	sessions  *session.Registry
	analytics analytics.Sink
	logger    *logrus.Logger
	ping      func(ctx context.Context) error
}

// NewHandler builds the handler. ping checks the backing store for /health
// and may be nil when everything runs in memory.
func NewHandler(
	queue *queue.Manager,
	dedup *dedup.Filter,
	handoffs *handoff.Manager,
	sessions *session.Registry,
	analytics analytics.Sink,
	logger *logrus.Logger,
	ping func(ctx context.Context) error,
) *Handler {
	return &Handler{
		queue:     queue,
		dedup:     dedup,
		handoffs:  handoffs,
		sessions:  sessions,
		analytics: analytics,
		logger:    logger,
		ping:      ping,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			h.logger.WithError(err).Warn("Health check failed")
			http.Error(w, "Health check failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"queue_size": h.queue.QueueSize(),
		"timestamp":  time.Now(),
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	handoffStats, err := h.handoffs.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get handoff stats")
		http.Error(w, "Failed to get status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":       h.queue.Stats(),
		"dedup":       h.dedup.Stats(),
		"handoffs":    handoffStats,
		"connections": h.sessions.Connections(),
		"timestamp":   time.Now(),
	})
}

func (h *Handler) NextHandoff(w http.ResponseWriter, r *http.Request) {
	var request struct {
		OperatorID string `json:"operator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.OperatorID == "" {
		http.Error(w, "operator_id is required", http.StatusBadRequest)
		return
	}

	req, err := h.handoffs.GetNext(r.Context(), request.OperatorID)
	if err != nil {
		h.logger.WithError(err).WithField("operator_id", request.OperatorID).Error("Failed to get next handoff")
		http.Error(w, "Handoff queue unavailable", http.StatusServiceUnavailable)
		return
	}
	if req == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) HandoffStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.handoffs.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get handoff stats")
		http.Error(w, "Handoff queue unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetHandoff(w http.ResponseWriter, r *http.Request) {
	handoffID := mux.Vars(r)["id"]

	req, err := h.handoffs.Get(r.Context(), handoffID)
	if err != nil {
		if errors.Is(err, handoff.ErrHandoffNotFound) {
			http.Error(w, "Handoff not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithField("handoff_id", handoffID).Error("Failed to get handoff")
		http.Error(w, "Handoff queue unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["id"]

	if !h.queue.Cancel(messageID) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"message_id": messageID,
			"cancelled":  false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message_id": messageID,
		"cancelled":  true,
	})
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":      sessionID,
		"cancelled_count": h.queue.CancelSession(sessionID),
	})
}

func (h *Handler) AgentStats(w http.ResponseWriter, r *http.Request) {
	agent := mux.Vars(r)["agent"]

	stats, err := h.analytics.AgentStats(r.Context(), agent)
	if err != nil {
		h.logger.WithError(err).WithField("agent", agent).Error("Failed to get agent stats")
		http.Error(w, "Analytics unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
