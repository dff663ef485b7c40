package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/analytics"
	"support-chat-dispatcher/pkg/dedup"
	"support-chat-dispatcher/pkg/handoff"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
	"support-chat-dispatcher/pkg/queue"
	"support-chat-dispatcher/pkg/sentiment"
	"support-chat-dispatcher/pkg/session"
	"support-chat-dispatcher/pkg/workflow"
)

// persistTimeout bounds the side effects that run after a result is
// committed, so an expired workflow deadline cannot skip them.
const persistTimeout = 5 * time.Second

const connectedMessage = "Connected to customer support"

// Emitter delivers an event to one connection. Delivery is best-effort.
type Emitter interface {
	Emit(connID string, event models.Event)
}

// InboundMessage is the payload of a client message event
type InboundMessage struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type Dependencies struct {
	Queue     *queue.Manager
	Dedup     *dedup.Filter
	Sessions  *session.Registry
	Engine    workflow.Engine
	Handoffs  *handoff.Manager
	Sentiment *sentiment.Analyzer
	Analytics analytics.Sink
	Emitter   Emitter
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

// Processor glues a chat connection to the work queue. HandleMessage is
// the inbound path; Process is the queue's process function.
type Processor struct {
	queue     *queue.Manager
	dedup     *dedup.Filter
	sessions  *session.Registry
	engine    workflow.Engine
	handoffs  *handoff.Manager
	sentiment *sentiment.Analyzer
	analytics analytics.Sink
	emitter   Emitter
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

func NewProcessor(deps Dependencies) *Processor {
	sink := deps.Analytics
	if sink == nil {
		sink = analytics.NewMemorySink()
	}
	return &Processor{
		queue:     deps.Queue,
		dedup:     deps.Dedup,
		sessions:  deps.Sessions,
		engine:    deps.Engine,
		handoffs:  deps.Handoffs,
		sentiment: deps.Sentiment,
		analytics: sink,
		emitter:   deps.Emitter,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
}

// Connect binds a new connection to a session and greets it
func (p *Processor) Connect(ctx context.Context, connID, requestedSessionID string) (string, error) {
	sessionID, restored, err := p.sessions.Connect(ctx, connID, requestedSessionID)
	if err != nil {
		return "", fmt.Errorf("failed to connect session: %w", err)
	}

	p.emit(connID, models.EventConnected, models.ConnectedPayload{
		SessionID: sessionID,
		Restored:  restored,
		Message:   connectedMessage,
	})
	return sessionID, nil
}

func (p *Processor) Disconnect(ctx context.Context, connID string) {
	if err := p.sessions.Disconnect(ctx, connID); err != nil && !errors.Is(err, session.ErrConnectionNotFound) {
		p.logger.WithError(err).WithField("connection_id", connID).Warn("Failed to persist session on disconnect")
	}
}

// HandleMessage validates, deduplicates and enqueues one inbound message.
// Every outcome is reported to the connection as an event.
func (p *Processor) HandleMessage(ctx context.Context, connID string, in InboundMessage) {
	sessionID, err := p.sessions.SessionFor(connID)
	if err != nil {
		p.emitError(connID, models.CodeNoSession, "Session not found. Please reconnect.", "")
		return
	}

	if strings.TrimSpace(in.Message) == "" {
		p.emitError(connID, models.CodeEmptyMessage, "Message cannot be empty", "")
		return
	}

	kind, err := models.ParseMessageKind(in.Type)
	if err != nil {
		p.emitError(connID, models.CodeInvalidRequest, err.Error(), "")
		return
	}

	logger := p.logger.WithFields(logrus.Fields{
		"connection_id": connID,
		"session_id":    sessionID,
	})

	duplicate, reason := p.dedup.IsDuplicate(sessionID, in.Message)
	p.metrics.DuplicateMessages.WithLabelValues(reason).Inc()
	if duplicate {
		logger.WithField("reason", reason).Warn("Duplicate message ignored")
		p.emit(connID, models.EventDuplicate, models.DuplicatePayload{
			Reason:          reason,
			Message:         "This message was already received and is being processed.",
			OriginalMessage: truncate(in.Message, 50),
		})
		return
	}
	p.dedup.Record(sessionID, in.Message)

	if IsInterruption(in.Message) {
		if cancelled := p.queue.CancelSession(sessionID); cancelled > 0 {
			logger.WithField("cancelled", cancelled).Info("Interruption detected, cancelled pending messages")
			p.emit(connID, models.EventAllCancelled, models.AllCancelledPayload{
				CancelledCount: cancelled,
				Reason:         "interruption_detected",
			})
		}
	}

	messageID, err := p.queue.Enqueue(ctx, queue.EnqueueRequest{
		ConnectionID: connID,
		SessionID:    sessionID,
		Text:         in.Message,
		Kind:         kind,
		Metadata:     map[string]interface{}{"received_at": time.Now().Unix()},
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			p.emitError(connID, models.CodeQueueFull, "System busy, please try again shortly.", "")
		case errors.Is(err, queue.ErrEmptyMessage):
			p.emitError(connID, models.CodeEmptyMessage, "Message cannot be empty", "")
		default:
			logger.WithError(err).Error("Failed to enqueue message")
			p.emitError(connID, models.CodeSystemError, "Message processing system not ready. Please try again.", "")
		}
		return
	}

	p.emit(connID, models.EventQueued, models.QueuedPayload{
		MessageID:     messageID,
		QueuePosition: p.queue.QueueSize(),
		Status:        string(models.StatusQueued),
	})
}

// CancelMessage cancels one message on behalf of the connection
func (p *Processor) CancelMessage(connID, messageID string) {
	if messageID == "" {
		p.emitError(connID, models.CodeInvalidRequest, "message_id is required", "")
		return
	}
	if _, err := p.sessions.SessionFor(connID); err != nil {
		p.emitError(connID, models.CodeNoSession, "Session not found", "")
		return
	}

	if !p.queue.Cancel(messageID) {
		p.emitError(connID, models.CodeCannotCancel, "Message cannot be cancelled (already completed or not found)", messageID)
		return
	}
	p.emit(connID, models.EventCancelled, models.CancelledPayload{
		MessageID: messageID,
		Status:    string(models.StatusCancelled),
	})
}

// CancelAll cancels every pending message of the connection's session
func (p *Processor) CancelAll(connID string) {
	sessionID, err := p.sessions.SessionFor(connID)
	if err != nil {
		p.emitError(connID, models.CodeNoSession, "Session not found", "")
		return
	}

	cancelled := p.queue.CancelSession(sessionID)
	p.emit(connID, models.EventAllCancelled, models.AllCancelledPayload{
		CancelledCount: cancelled,
		Status:         string(models.StatusCancelled),
	})
}

// Process runs one turn for msg. It is called by a queue worker while the
// session's turn is held, so loading and saving the state cannot race with
// another message of the same session.
func (p *Processor) Process(ctx context.Context, msg *models.QueuedMessage, ticket *queue.Ticket) error {
	start := time.Now()
	logger := p.logger.WithFields(logrus.Fields{
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
	})

	mood := p.sentiment.Analyze(msg.Text)
	logger.WithFields(logrus.Fields{
		"sentiment": mood.Label,
		"polarity":  mood.Polarity,
		"urgency":   mood.Urgency,
	}).Debug("Processing message")

	p.emit(msg.ConnectionID, models.EventTyping, models.TypingPayload{IsTyping: true, MessageID: msg.MessageID})

	result, handoffsBefore, err := p.runTurn(ctx, msg, mood)
	if err != nil {
		p.emit(msg.ConnectionID, models.EventTyping, models.TypingPayload{IsTyping: false, MessageID: msg.MessageID})
		if ticket.Cancelled() {
			logger.WithError(err).Debug("Workflow stopped for cancelled message")
			return err
		}
		p.recordFailure(ctx, msg, start)
		p.emitError(msg.ConnectionID, models.CodeProcessingError,
			"An error occurred while processing your message. Please try again.", msg.MessageID)
		return err
	}

	if !ticket.Commit() {
		logger.Info("Discarding result of cancelled message")
		p.emit(msg.ConnectionID, models.EventTyping, models.TypingPayload{IsTyping: false, MessageID: msg.MessageID})
		return nil
	}

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.sessions.Save(sideCtx, result); err != nil {
		logger.WithError(err).Warn("Failed to persist session state")
	}

	responseTime := time.Since(start)
	if err := p.analytics.RecordResponse(sideCtx, analytics.Record{
		Agent:        result.CurrentAgent,
		SessionID:    msg.SessionID,
		MessageID:    msg.MessageID,
		Intent:       result.ClassifiedIntent,
		Confidence:   result.Confidence(),
		ResponseTime: responseTime,
		Success:      true,
	}); err != nil {
		logger.WithError(err).Warn("Failed to record analytics")
	}

	needsHandoff, reason, priority := p.handoffs.CheckHandoffNeeded(result, &mood)

	p.emit(msg.ConnectionID, models.EventTyping, models.TypingPayload{IsTyping: false, MessageID: msg.MessageID})
	p.emit(msg.ConnectionID, models.EventResponse, models.ResponsePayload{
		Message:   result.GeneratedResponse,
		Agent:     result.CurrentAgent,
		MessageID: msg.MessageID,
		Metadata:  responseMetadata(result, mood, responseTime),
	})

	if len(result.AgentHandoffs) > handoffsBefore {
		last := result.AgentHandoffs[len(result.AgentHandoffs)-1]
		p.emit(msg.ConnectionID, models.EventAgentSwitch, models.AgentSwitchPayload{
			FromAgent: last.FromAgent,
			ToAgent:   last.ToAgent,
			Reason:    last.Reason,
			MessageID: msg.MessageID,
		})
	}

	if needsHandoff {
		p.escalate(sideCtx, msg, result, mood, reason, priority)
	}

	logger.WithFields(logrus.Fields{
		"agent":         result.CurrentAgent,
		"intent":        result.ClassifiedIntent,
		"human_handoff": needsHandoff,
		"duration":      responseTime.String(),
	}).Info("Message processed")
	return nil
}

// runTurn works on a copy of the session state so that a failed or
// cancelled turn leaves the stored snapshot untouched.
func (p *Processor) runTurn(ctx context.Context, msg *models.QueuedMessage, mood models.Sentiment) (*models.ConversationState, int, error) {
	state, err := p.sessions.Load(ctx, msg.SessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load session state: %w", err)
	}

	state = state.Clone()
	state.GeneratedResponse = ""
	state.EndOfTurn = false
	if state.Context == nil {
		state.Context = make(map[string]interface{})
	}
	state.Context[workflow.ContextKeySentiment] = mood
	handoffsBefore := len(state.AgentHandoffs)

	if err := state.AppendMessage(models.ChatMessage{
		Role:    models.RoleUser,
		Content: msg.Text,
		Metadata: map[string]interface{}{
			"message_id": msg.MessageID,
			"kind":       string(msg.Kind),
		},
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to append user message: %w", err)
	}

	result, err := p.engine.Run(ctx, state)
	if err != nil {
		return nil, 0, fmt.Errorf("workflow failed: %w", err)
	}
	return result, handoffsBefore, nil
}

func (p *Processor) escalate(ctx context.Context, msg *models.QueuedMessage, state *models.ConversationState, mood models.Sentiment, reason models.HandoffReason, priority models.HandoffPriority) {
	result := p.handoffs.RequestHandoff(ctx, models.HandoffRequest{
		SessionID:    msg.SessionID,
		CustomerID:   state.CustomerID,
		CurrentAgent: state.CurrentAgent,
		Reason:       reason,
		Priority:     priority,
		Sentiment:    &mood,
		Context: map[string]interface{}{
			"conversation_messages": state.Messages,
			"intent":                state.ClassifiedIntent,
			"agent_handoff_history": state.AgentHandoffs,
		},
	})

	p.emit(msg.ConnectionID, models.EventHandoffNotice, models.HandoffNoticePayload{
		HandoffID:         result.HandoffID,
		QueuePosition:     result.QueuePosition,
		EstimatedWaitTime: result.EstimatedWaitTime.Seconds(),
		Reason:            string(reason),
		Priority:          string(priority),
		Status:            string(result.Status),
		Message:           result.Message,
		MessageID:         msg.MessageID,
	})
}

func (p *Processor) recordFailure(ctx context.Context, msg *models.QueuedMessage, start time.Time) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.analytics.RecordResponse(sideCtx, analytics.Record{
		Agent:        "system",
		SessionID:    msg.SessionID,
		MessageID:    msg.MessageID,
		ResponseTime: time.Since(start),
		Success:      false,
	}); err != nil {
		p.logger.WithError(err).WithField("message_id", msg.MessageID).Warn("Failed to record analytics")
	}
}

func responseMetadata(state *models.ConversationState, mood models.Sentiment, responseTime time.Duration) models.ResponseMetadata {
	meta := models.ResponseMetadata{
		Intent:            state.ClassifiedIntent,
		Confidence:        state.IntentConfidence,
		DBOperationsCount: len(state.DatabaseOps),
		Sentiment:         mood.Label,
		SentimentPolarity: mood.Polarity,
		UrgencyLevel:      mood.Urgency,
		ResponseTimeMS:    math.Round(float64(responseTime)/float64(time.Millisecond)*100) / 100,
		SequencesExecuted: len(state.SequenceMetadata),
	}
	var total float64
	for _, step := range state.SequenceMetadata {
		total += step.DurationSeconds
	}
	meta.SequenceDurationMS = total * 1000
	return meta
}

func (p *Processor) emit(connID, name string, payload interface{}) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(connID, models.NewEvent(name, payload))
}

func (p *Processor) emitError(connID, code, message, messageID string) {
	p.emit(connID, models.EventError, models.ErrorPayload{
		Code:      code,
		Message:   message,
		MessageID: messageID,
	})
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
