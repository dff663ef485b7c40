package models

import "time"

// Outbound event names sent to a chat connection
const (
	EventConnected     = "connected"
	EventQueued        = "message_queued"
	EventDuplicate     = "message_duplicate"
	EventCancelled     = "message_cancelled"
	EventAllCancelled  = "all_messages_cancelled"
	EventTyping        = "typing"
	EventResponse      = "response"
	EventAgentSwitch   = "agent_switch"
	EventHandoffNotice = "human_handoff"
	EventError         = "error"
	EventPong          = "pong"
)

// Error codes carried by EventError
const (
	CodeNoSession        = "NO_SESSION"
	CodeEmptyMessage     = "EMPTY_MESSAGE"
	CodeQueueFull        = "QUEUE_FULL"
	CodeSystemError      = "SYSTEM_ERROR"
	CodeProcessingError  = "PROCESSING_ERROR"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeCannotCancel     = "CANNOT_CANCEL"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnsupportedEvent = "UNSUPPORTED_EVENT"
)

// Event is a transport-agnostic message pushed to one connection
type Event struct {
	Name      string      `json:"event"`
	Payload   interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewEvent stamps an event with the current unix time
func NewEvent(name string, payload interface{}) Event {
	return Event{Name: name, Payload: payload, Timestamp: time.Now().Unix()}
}

type QueuedPayload struct {
	MessageID     string `json:"message_id"`
	QueuePosition int    `json:"queue_position"`
	Status        string `json:"status"`
}

type DuplicatePayload struct {
	Reason          string `json:"reason"`
	Message         string `json:"message"`
	OriginalMessage string `json:"original_message"`
}

type CancelledPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type AllCancelledPayload struct {
	CancelledCount int    `json:"cancelled_count"`
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status,omitempty"`
}

type TypingPayload struct {
	IsTyping  bool   `json:"is_typing"`
	MessageID string `json:"message_id"`
}

type ResponseMetadata struct {
	Intent             string   `json:"intent,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
	DBOperationsCount  int      `json:"db_operations_count"`
	Sentiment          string   `json:"sentiment"`
	SentimentPolarity  float64  `json:"sentiment_polarity"`
	UrgencyLevel       string   `json:"urgency_level"`
	ResponseTimeMS     float64  `json:"response_time_ms"`
	SequencesExecuted  int      `json:"sequences_executed"`
	SequenceDurationMS float64  `json:"sequence_duration_ms"`
}

type ResponsePayload struct {
	Message   string           `json:"message"`
	Agent     string           `json:"agent"`
	MessageID string           `json:"message_id"`
	Metadata  ResponseMetadata `json:"metadata"`
}

type AgentSwitchPayload struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Reason    string `json:"reason"`
	MessageID string `json:"message_id"`
}

type HandoffNoticePayload struct {
	HandoffID         string  `json:"handoff_id,omitempty"`
	QueuePosition     int64   `json:"queue_position"`
	EstimatedWaitTime float64 `json:"estimated_wait_time"` // seconds
	Reason            string  `json:"reason"`
	Priority          string  `json:"priority"`
	Status            string  `json:"status"`
	Message           string  `json:"message"`
	MessageID         string  `json:"message_id"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

type ConnectedPayload struct {
	SessionID string `json:"session_id"`
	Restored  bool   `json:"restored"`
	Message   string `json:"message"`
}
