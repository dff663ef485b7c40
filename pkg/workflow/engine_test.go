package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-dispatcher/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func stateWithUserMessage(t *testing.T, text string) *models.ConversationState {
	state := models.NewConversationState("s1")
	require.NoError(t, state.AppendMessage(models.ChatMessage{Role: models.RoleUser, Content: text}))
	return state
}

type stubResponder struct {
	reply string
	err   error
	calls int
}

func (s *stubResponder) Respond(ctx context.Context, agent string, state *models.ConversationState) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestRouter_RunRoutesAndAnswers(t *testing.T) {
	router := NewRouter(NewTemplateResponder(nil), nil, testLogger())
	state := stateWithUserMessage(t, "What's the price of laptops?")

	result, err := router.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, IntentSales, result.ClassifiedIntent)
	assert.Equal(t, 1.0, result.Confidence())
	assert.Equal(t, models.AgentSales, result.CurrentAgent)
	require.Len(t, result.AgentHandoffs, 1)
	assert.Equal(t, models.AgentOrchestrator, result.AgentHandoffs[0].FromAgent)
	assert.Equal(t, models.AgentSales, result.AgentHandoffs[0].ToAgent)

	require.Len(t, result.Messages, 2)
	reply := result.Messages[1]
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, models.AgentSales, reply.AgentName)
	assert.Contains(t, reply.Content, "laptops start at")
	assert.Equal(t, reply.Content, result.GeneratedResponse)
	assert.True(t, result.EndOfTurn)

	assert.Contains(t, result.SequenceMetadata, SeqClassify)
	assert.Contains(t, result.SequenceMetadata, SeqRespond)
	require.Len(t, result.DatabaseOps, 1)
	assert.Equal(t, "knowledge_base", result.DatabaseOps[0].Table)
}

func TestRouter_SameAgentRecordsNoHandoff(t *testing.T) {
	router := NewRouter(NewTemplateResponder(nil), nil, testLogger())
	state := stateWithUserMessage(t, "hello")

	result, err := router.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, result.AgentHandoffs)
	assert.Equal(t, models.AgentOrchestrator, result.CurrentAgent)
}

func TestRouter_AppliesSentimentTone(t *testing.T) {
	router := NewRouter(NewTemplateResponder(nil), nil, testLogger())
	state := stateWithUserMessage(t, "my order is late")
	state.Context[ContextKeySentiment] = models.Sentiment{Label: "negative", Urgency: "high"}

	result, err := router.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, result.GeneratedResponse, "I'm sorry for the trouble.")
	assert.Contains(t, result.GeneratedResponse, "I understand this is urgent.")
}

func TestRouter_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := &stubResponder{err: errors.New("model offline")}
	fallback := &stubResponder{reply: "fallback answer"}
	router := NewRouter(primary, fallback, testLogger())

	result, err := router.Run(context.Background(), stateWithUserMessage(t, "hi"))
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result.GeneratedResponse)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestRouter_ErrorsWithoutFallback(t *testing.T) {
	router := NewRouter(&stubResponder{err: errors.New("model offline")}, nil, testLogger())

	_, err := router.Run(context.Background(), stateWithUserMessage(t, "hi"))
	assert.Error(t, err)
}

func TestRouter_RequiresUserMessage(t *testing.T) {
	router := NewRouter(NewTemplateResponder(nil), nil, testLogger())

	_, err := router.Run(context.Background(), models.NewConversationState("s1"))
	assert.ErrorIs(t, err, ErrNoUserInput)

	_, err = NewRouter(nil, nil, testLogger()).Run(context.Background(), stateWithUserMessage(t, "hi"))
	assert.ErrorIs(t, err, ErrNoResponder)
}
