package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"support-chat-dispatcher/pkg/models"
)

func stateWith(text string, confidence float64, handoffs int) *models.ConversationState {
	state := models.NewConversationState("s1")
	if text != "" {
		state.Messages = append(state.Messages, models.ChatMessage{Role: models.RoleUser, Content: text})
	}
	state.IntentConfidence = &confidence
	for i := 0; i < handoffs; i++ {
		state.RecordAgentHandoff(models.AgentOrchestrator, models.AgentSales, "routing")
	}
	return state
}

func TestCheckHandoffNeeded(t *testing.T) {
	escalating := &models.Sentiment{RequiresEscalation: true, Urgency: "critical"}

	tests := []struct {
		name      string
		state     *models.ConversationState
		sentiment *models.Sentiment
		needed    bool
		reason    models.HandoffReason
		priority  models.HandoffPriority
	}{
		{
			name:     "explicit request",
			state:    stateWith("Can I speak to a human agent please", 0.9, 0),
			needed:   true,
			reason:   models.ReasonExplicitRequest,
			priority: models.PriorityHigh,
		},
		{
			name:     "explicit request beats low confidence",
			state:    stateWith("I want to SPEAK TO HUMAN now", 0.1, 0),
			needed:   true,
			reason:   models.ReasonExplicitRequest,
			priority: models.PriorityHigh,
		},
		{
			name:      "explicit request beats sentiment",
			state:     stateWith("escalate this", 0.9, 0),
			sentiment: escalating,
			needed:    true,
			reason:    models.ReasonExplicitRequest,
			priority:  models.PriorityHigh,
		},
		{
			name:      "sentiment uses urgency as priority",
			state:     stateWith("this is terrible", 0.1, 5),
			sentiment: escalating,
			needed:    true,
			reason:    models.ReasonNegativeSentiment,
			priority:  models.PriorityCritical,
		},
		{
			name:      "sentiment with unknown urgency is medium",
			state:     stateWith("bad", 0.9, 0),
			sentiment: &models.Sentiment{RequiresEscalation: true},
			needed:    true,
			reason:    models.ReasonNegativeSentiment,
			priority:  models.PriorityMedium,
		},
		{
			name:      "sentiment without escalation flag is ignored",
			state:     stateWith("meh", 0.9, 0),
			sentiment: &models.Sentiment{Urgency: "high"},
			needed:    false,
		},
		{
			name:     "low confidence",
			state:    stateWith("hmm", 0.29, 3),
			needed:   true,
			reason:   models.ReasonAgentUncertainty,
			priority: models.PriorityMedium,
		},
		{
			name:   "confidence at threshold does not escalate",
			state:  stateWith("hmm", 0.3, 0),
			needed: false,
		},
		{
			name:     "repeated agent handoffs",
			state:    stateWith("ok", 0.8, 3),
			needed:   true,
			reason:   models.ReasonRepeatedFailure,
			priority: models.PriorityHigh,
		},
		{
			name:   "two handoffs are fine",
			state:  stateWith("ok", 0.8, 2),
			needed: false,
		},
		{
			name:   "empty conversation",
			state:  models.NewConversationState("s1"),
			needed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			needed, reason, priority := CheckHandoffNeeded(tt.state, tt.sentiment)
			assert.Equal(t, tt.needed, needed)
			if tt.needed {
				assert.Equal(t, tt.reason, reason)
				assert.Equal(t, tt.priority, priority)
			}
		})
	}
}

func TestCheckHandoffNeeded_IgnoresAssistantReply(t *testing.T) {
	state := stateWith("what laptops do you have", 0.9, 0)
	state.Messages = append(state.Messages, models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: "I can escalate to a human agent if needed",
	})

	needed, _, _ := CheckHandoffNeeded(state, nil)
	assert.False(t, needed)
}
