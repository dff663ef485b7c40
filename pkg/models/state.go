package models

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Agent names used by the default workflow
const (
	AgentOrchestrator = "orchestrator"
	AgentSales        = "sales"
	AgentMarketing    = "marketing"
	AgentSupport      = "support"
	AgentLogistics    = "logistics"
)

var ErrInvalidMessage = errors.New("invalid conversation message")

// ChatMessage is a single entry of the conversation history
type ChatMessage struct {
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	AgentName string                 `json:"agent_name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate enforces the required role and content fields
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

// AgentHandoff records an agent-to-agent routing change inside one conversation
type AgentHandoff struct {
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DatabaseOperation is an audit entry for reads and writes done by an agent
type DatabaseOperation struct {
	Type      string                 `json:"type"` // READ or WRITE
	Table     string                 `json:"table"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Agent     string                 `json:"agent"`
	Timestamp time.Time              `json:"timestamp"`
}

// SequenceStep is timing metadata for one step of a multi-step agent run
type SequenceStep struct {
	Name            string    `json:"name"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ConversationState is threaded through the workflow engine once per turn.
// Messages are append-only and never reordered.
type ConversationState struct {
	SessionID         string                  `json:"session_id"`
	CustomerID        *int64                  `json:"customer_id,omitempty"`
	Messages          []ChatMessage           `json:"messages"`
	CurrentAgent      string                  `json:"current_agent"`
	ClassifiedIntent  string                  `json:"classified_intent,omitempty"`
	IntentConfidence  *float64                `json:"intent_confidence,omitempty"`
	Context           map[string]interface{}  `json:"context"`
	AgentHandoffs     []AgentHandoff          `json:"agent_handoffs"`
	DatabaseOps       []DatabaseOperation     `json:"database_operations"`
	SequenceMetadata  map[string]SequenceStep `json:"sequence_metadata"`
	GeneratedResponse string                  `json:"generated_response,omitempty"`
	EndOfTurn         bool                    `json:"end_of_turn"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// NewConversationState returns the initial state for a fresh session
func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID:        sessionID,
		Messages:         []ChatMessage{},
		CurrentAgent:     AgentOrchestrator,
		Context:          make(map[string]interface{}),
		AgentHandoffs:    []AgentHandoff{},
		DatabaseOps:      []DatabaseOperation{},
		SequenceMetadata: make(map[string]SequenceStep),
		UpdatedAt:        time.Now(),
	}
}

// AppendMessage validates msg and appends it to the history
func (s *ConversationState) AppendMessage(msg ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.Timestamp
	return nil
}

// LastMessage returns the most recent message, if any
func (s *ConversationState) LastMessage() (ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return ChatMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// RecordAgentHandoff appends a handoff record and switches the active agent
func (s *ConversationState) RecordAgentHandoff(from, to, reason string) {
	s.AgentHandoffs = append(s.AgentHandoffs, AgentHandoff{
		FromAgent: from,
		ToAgent:   to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	s.CurrentAgent = to
}

// LogDatabaseOperation appends an audit entry attributed to the current agent
func (s *ConversationState) LogDatabaseOperation(opType, table string, details map[string]interface{}) {
	s.DatabaseOps = append(s.DatabaseOps, DatabaseOperation{
		Type:      opType,
		Table:     table,
		Details:   details,
		Agent:     s.CurrentAgent,
		Timestamp: time.Now(),
	})
}

// Confidence returns the intent confidence, treating an unclassified turn as fully confident
func (s *ConversationState) Confidence() float64 {
	if s.IntentConfidence == nil {
		return 1.0
	}
	return *s.IntentConfidence
}

// Clone returns a copy that can be mutated without touching s
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	if s.CustomerID != nil {
		id := *s.CustomerID
		c.CustomerID = &id
	}
	if s.IntentConfidence != nil {
		conf := *s.IntentConfidence
		c.IntentConfidence = &conf
	}
	c.Messages = append([]ChatMessage(nil), s.Messages...)
	c.AgentHandoffs = append([]AgentHandoff(nil), s.AgentHandoffs...)
	c.DatabaseOps = append([]DatabaseOperation(nil), s.DatabaseOps...)
	c.Context = make(map[string]interface{}, len(s.Context))
	for k, v := range s.Context {
		c.Context[k] = v
	}
	c.SequenceMetadata = make(map[string]SequenceStep, len(s.SequenceMetadata))
	for k, v := range s.SequenceMetadata {
		c.SequenceMetadata[k] = v
	}
	return &c
}
