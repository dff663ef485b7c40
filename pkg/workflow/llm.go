package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/models"
	"support-chat-dispatcher/pkg/sentiment"
)

const historyLimit = 10

var agentPersonas = map[string]string{
	models.AgentOrchestrator: "You are the front desk assistant of an electronics store. Greet customers and find out what they need.",
	models.AgentSales:        "You are the sales assistant of an electronics store. Help with products, prices, availability and comparisons.",
	models.AgentMarketing:    "You are the marketing assistant of an electronics store. Explain promotions, discounts and the loyalty programme.",
	models.AgentSupport:      "You are the technical support assistant of an electronics store. Troubleshoot problems and explain warranties.",
	models.AgentLogistics:    "You are the logistics assistant of an electronics store. Help with order tracking, shipping and returns.",
}

// NewArkChatModel builds the Ark chat model from configuration
func NewArkChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if !cfg.LLMEnabled() {
		return nil, fmt.Errorf("ark credentials are not configured")
	}
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.ArkBaseURL,
		Region:  cfg.ArkRegion,
		APIKey:  cfg.ArkAPIKey,
		Model:   cfg.ArkModel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return chatModel, nil
}

// LLMResponder generates replies with a prompt template -> chat model chain.
// Knowledge base matches are passed to the model as reference material.
type LLMResponder struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	kb     *KnowledgeBase
	logger *logrus.Logger
}

func NewLLMResponder(ctx context.Context, chatModel model.BaseChatModel, kb *KnowledgeBase, logger *logrus.Logger) (*LLMResponder, error) {
	if kb == nil {
		kb = DefaultKnowledgeBase()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile responder chain: %w", err)
	}

	return &LLMResponder{
		chain:  runnable,
		kb:     kb,
		logger: logger,
	}, nil
}

func (r *LLMResponder) Respond(ctx context.Context, agent string, state *models.ConversationState) (string, error) {
	query := lastUserText(state)

	input := map[string]any{
		"system":  r.buildSystemPrompt(agent, query, state),
		"history": buildHistory(state.Messages),
		"query":   query,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run responder chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	r.logger.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"agent":      agent,
		"length":     len(reply),
	}).Debug("Generated LLM response")

	return reply, nil
}

func (r *LLMResponder) buildSystemPrompt(agent, query string, state *models.ConversationState) string {
	persona, ok := agentPersonas[agent]
	if !ok {
		persona = agentPersonas[models.AgentOrchestrator]
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString(" Keep answers short and factual.")

	if topic, ok := r.kb.Lookup(agent, query); ok {
		state.LogDatabaseOperation("READ", "knowledge_base", map[string]interface{}{
			"agent": agent,
			"topic": topic.Name,
		})
		b.WriteString("\n\nReference information:\n")
		b.WriteString(topic.Answer)
	}

	if s, ok := SentimentFrom(state); ok {
		m := sentiment.ResponseModifier(s)
		fmt.Fprintf(&b, "\n\nUse a %s tone with %s empathy.", m.Tone, m.EmpathyLevel)
		if m.ApologyNeeded {
			b.WriteString(" Apologise for the inconvenience.")
		}
		if m.UrgencyAcknowledgment {
			b.WriteString(" Acknowledge that the request is urgent.")
		}
	}
	return b.String()
}

// buildHistory converts the conversation, minus the current user message,
// into model messages, keeping only the most recent entries.
func buildHistory(messages []models.ChatMessage) []*schema.Message {
	if len(messages) > 0 && messages[len(messages)-1].Role == models.RoleUser {
		messages = messages[:len(messages)-1]
	}
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case models.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case models.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
