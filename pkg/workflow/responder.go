package workflow

import (
	"context"
	"strings"

	"support-chat-dispatcher/pkg/models"
	"support-chat-dispatcher/pkg/sentiment"
)

// Responder produces the reply of agent for the latest user message in state.
// It may append audit entries to state.
type Responder interface {
	Respond(ctx context.Context, agent string, state *models.ConversationState) (string, error)
}

// TemplateResponder answers from the knowledge base without a model call
type TemplateResponder struct {
	kb *KnowledgeBase
}

func NewTemplateResponder(kb *KnowledgeBase) *TemplateResponder {
	if kb == nil {
		kb = DefaultKnowledgeBase()
	}
	return &TemplateResponder{kb: kb}
}

func (r *TemplateResponder) Respond(ctx context.Context, agent string, state *models.ConversationState) (string, error) {
	query := lastUserText(state)

	answer := r.kb.Fallback(agent)
	if topic, ok := r.kb.Lookup(agent, query); ok {
		answer = topic.Answer
		state.LogDatabaseOperation("READ", "knowledge_base", map[string]interface{}{
			"agent": agent,
			"topic": topic.Name,
		})
	}

	if s, ok := SentimentFrom(state); ok {
		answer = applyModifier(answer, sentiment.ResponseModifier(s))
	}
	return answer, nil
}

func applyModifier(answer string, m sentiment.Modifier) string {
	var b strings.Builder
	if m.ApologyNeeded {
		b.WriteString("I'm sorry for the trouble. ")
	}
	if m.UrgencyAcknowledgment {
		b.WriteString("I understand this is urgent. ")
	}
	b.WriteString(answer)
	return b.String()
}

// SentimentFrom reads the snapshot stored under last_sentiment, if any
func SentimentFrom(state *models.ConversationState) (models.Sentiment, bool) {
	if state == nil || state.Context == nil {
		return models.Sentiment{}, false
	}
	switch v := state.Context[ContextKeySentiment].(type) {
	case models.Sentiment:
		return v, true
	case *models.Sentiment:
		if v != nil {
			return *v, true
		}
	}
	return models.Sentiment{}, false
}

func lastUserText(state *models.ConversationState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == models.RoleUser {
			return state.Messages[i].Content
		}
	}
	return ""
}
