package handoff

import (
	"strings"

	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/models"
)

var explicitRequestPhrases = []string{
	"speak to human",
	"talk to person",
	"human agent",
	"real person",
	"speak to manager",
	"escalate",
}

// CheckHandoffNeeded decides whether a turn escalates to a human. Rules are
// tried in a fixed order and the first match wins:
//
//  1. the customer explicitly asks for a human (high)
//  2. sentiment requires escalation (priority from urgency, default medium)
//  3. intent confidence below 0.3 (medium)
//  4. three or more agent handoffs in the conversation (high)
func CheckHandoffNeeded(state *models.ConversationState, sentiment *models.Sentiment) (bool, models.HandoffReason, models.HandoffPriority) {
	if state == nil {
		return false, "", ""
	}

	if text, ok := lastCustomerText(state); ok && containsAny(strings.ToLower(text), explicitRequestPhrases) {
		return true, models.ReasonExplicitRequest, models.PriorityHigh
	}

	if sentiment != nil && sentiment.RequiresEscalation {
		priority, err := models.ParsePriority(sentiment.Urgency)
		if err != nil {
			priority = models.PriorityMedium
		}
		return true, models.ReasonNegativeSentiment, priority
	}

	if state.Confidence() < constants.LowConfidenceThreshold {
		return true, models.ReasonAgentUncertainty, models.PriorityMedium
	}

	if len(state.AgentHandoffs) >= constants.RepeatedFailureHandoffs {
		return true, models.ReasonRepeatedFailure, models.PriorityHigh
	}

	return false, "", ""
}

// lastCustomerText is the newest user message; assistant replies appended
// by the workflow are not the customer's words.
func lastCustomerText(state *models.ConversationState) (string, bool) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == models.RoleUser {
			return state.Messages[i].Content, true
		}
	}
	return "", false
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
