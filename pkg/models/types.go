package models

import (
	"fmt"
	"time"
)

// MessageKind is the input channel a chat message arrived on
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
)

// ParseMessageKind maps an inbound type field to a MessageKind, defaulting to text
func ParseMessageKind(raw string) (MessageKind, error) {
	switch MessageKind(raw) {
	case "", KindText:
		return KindText, nil
	case KindVoice:
		return KindVoice, nil
	default:
		return "", fmt.Errorf("unsupported message type %q", raw)
	}
}

// QueuedMessage is one accepted unit of work. It is immutable once enqueued.
type QueuedMessage struct {
	MessageID    string                 `json:"message_id"`
	SessionID    string                 `json:"session_id"`
	ConnectionID string                 `json:"connection_id"`
	Text         string                 `json:"text"`
	Kind         MessageKind            `json:"kind"`
	QueuedAt     time.Time              `json:"queued_at"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MessageStatus tracks a queued message through its lifecycle
type MessageStatus string

const (
	StatusQueued     MessageStatus = "queued"
	StatusProcessing MessageStatus = "processing"
	StatusCancelled  MessageStatus = "cancelled"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

// MessageResponse is handed to completion callbacks once a message leaves the pool
type MessageResponse struct {
	MessageID      string        `json:"message_id"`
	SessionID      string        `json:"session_id"`
	Status         MessageStatus `json:"status"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// MessageRecord is a dedup fingerprint of an accepted message
type MessageRecord struct {
	Hash      string    `json:"hash"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Preview   string    `json:"preview"` // first 100 runes, diagnostics only
}

// Sentiment is the per-message sentiment snapshot used for escalation
type Sentiment struct {
	Polarity            float64 `json:"polarity"`
	Label               string  `json:"sentiment_label"`
	Urgency             string  `json:"urgency_level"`
	RequiresEscalation  bool    `json:"requires_escalation"`
	EscalationReason    string  `json:"escalation_reason,omitempty"`
	HasNegativeKeywords bool    `json:"has_negative_keywords"`
	HasUrgentKeywords   bool    `json:"has_urgent_keywords"`
}
