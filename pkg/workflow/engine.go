package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/models"
)

const (
	// ContextKeySentiment holds the sentiment snapshot of the latest turn
	ContextKeySentiment = "last_sentiment"

	SeqClassify = "seq1"
	SeqRespond  = "seq2"
)

var (
	ErrNoResponder = errors.New("no responder configured")
	ErrNoUserInput = errors.New("conversation has no user message")
)

// Engine runs one conversation turn. The last message of state is the
// user's input; the returned state carries the reply and routing decisions.
type Engine interface {
	Run(ctx context.Context, state *models.ConversationState) (*models.ConversationState, error)
}

// Router classifies the latest user message, hands the conversation to the
// matching agent and asks a Responder for the reply.
type Router struct {
	responder Responder
	fallback  Responder
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRouter builds the default engine. fallback, if set, answers when the
// primary responder fails.
func NewRouter(responder, fallback Responder, logger *logrus.Logger) *Router {
	return &Router{
		responder: responder,
		fallback:  fallback,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Router) Run(ctx context.Context, state *models.ConversationState) (*models.ConversationState, error) {
	if r.responder == nil && r.fallback == nil {
		return nil, ErrNoResponder
	}
	last, ok := state.LastMessage()
	if !ok || last.Role != models.RoleUser {
		return nil, ErrNoUserInput
	}

	if state.SequenceMetadata == nil {
		state.SequenceMetadata = make(map[string]models.SequenceStep)
	}

	start := r.now()
	classification := Classify(last.Content)
	confidence := classification.Confidence
	state.ClassifiedIntent = classification.Intent
	state.IntentConfidence = &confidence

	agent := AgentFor(classification.Intent)
	if agent != state.CurrentAgent {
		state.RecordAgentHandoff(state.CurrentAgent, agent, fmt.Sprintf("intent classified as %s", classification.Intent))
	}
	r.recordStep(state, SeqClassify, "classify_intent", start)

	logger := r.logger.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"intent":     classification.Intent,
		"confidence": confidence,
		"agent":      agent,
	})
	logger.Debug("Intent classified")

	start = r.now()
	reply, err := r.respond(ctx, agent, state)
	if err != nil {
		return nil, err
	}
	r.recordStep(state, SeqRespond, "generate_response", start)

	if err := state.AppendMessage(models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   reply,
		AgentName: agent,
	}); err != nil {
		return nil, fmt.Errorf("failed to append reply: %w", err)
	}
	state.GeneratedResponse = reply
	state.EndOfTurn = true

	return state, nil
}

func (r *Router) respond(ctx context.Context, agent string, state *models.ConversationState) (string, error) {
	if r.responder != nil {
		reply, err := r.responder.Respond(ctx, agent, state)
		if err == nil && reply != "" {
			return reply, nil
		}
		if r.fallback == nil {
			if err == nil {
				err = errors.New("empty reply")
			}
			return "", fmt.Errorf("failed to generate response: %w", err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.WithError(err).WithField("session_id", state.SessionID).Warn("Primary responder failed, using fallback")
	}

	reply, err := r.fallback.Respond(ctx, agent, state)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return reply, nil
}

func (r *Router) recordStep(state *models.ConversationState, key, name string, start time.Time) {
	state.SequenceMetadata[key] = models.SequenceStep{
		Name:            name,
		StartedAt:       start,
		DurationSeconds: r.now().Sub(start).Seconds(),
	}
}
