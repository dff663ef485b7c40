package models

import (
	"fmt"
	"time"
)

// HandoffPriority is the escalation tier of a human handoff request
type HandoffPriority string

const (
	PriorityLow      HandoffPriority = "low"
	PriorityMedium   HandoffPriority = "medium"
	PriorityHigh     HandoffPriority = "high"
	PriorityCritical HandoffPriority = "critical"
)

// PrioritiesByUrgency lists tiers in dequeue order, most urgent first
var PrioritiesByUrgency = []HandoffPriority{
	PriorityCritical,
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
}

// ParsePriority accepts the lowercase tier names
func ParsePriority(raw string) (HandoffPriority, error) {
	switch p := HandoffPriority(raw); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown handoff priority %q", raw)
	}
}

// HandoffReason explains why a conversation was escalated
type HandoffReason string

const (
	ReasonNegativeSentiment HandoffReason = "negative_sentiment"
	ReasonComplexQuery      HandoffReason = "complex_query"
	ReasonExplicitRequest   HandoffReason = "explicit_request"
	ReasonAgentUncertainty  HandoffReason = "agent_uncertainty"
	ReasonRepeatedFailure   HandoffReason = "repeated_failure"
	ReasonUrgentIssue       HandoffReason = "urgent_issue"
	ReasonPolicyViolation   HandoffReason = "policy_violation"
)

// HandoffStatus is the lifecycle state of a handoff request
type HandoffStatus string

const (
	HandoffQueued   HandoffStatus = "queued"
	HandoffAssigned HandoffStatus = "assigned"
	HandoffFailed   HandoffStatus = "failed"
)

// HandoffRequest is a request for a human operator to take over a session
type HandoffRequest struct {
	HandoffID    string                 `json:"handoff_id"`
	SessionID    string                 `json:"session_id"`
	CustomerID   *int64                 `json:"customer_id,omitempty"`
	CurrentAgent string                 `json:"current_agent"`
	Reason       HandoffReason          `json:"reason"`
	Priority     HandoffPriority        `json:"priority"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Sentiment    *Sentiment             `json:"sentiment,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	Status       HandoffStatus          `json:"status"`
	AssignedTo   string                 `json:"assigned_to,omitempty"`
	AssignedAt   *time.Time             `json:"assigned_at,omitempty"`
}

// HandoffResult is returned to the caller of a handoff request
type HandoffResult struct {
	HandoffID         string        `json:"handoff_id"`
	QueuePosition     int64         `json:"queue_position"`
	EstimatedWaitTime time.Duration `json:"estimated_wait_time"`
	Status            HandoffStatus `json:"status"`
	Message           string        `json:"message"`
}

// Queued reports whether the request made it into the queue
func (r HandoffResult) Queued() bool {
	return r.Status == HandoffQueued && r.HandoffID != ""
}

// HandoffQueueStats summarises the escalation queue
type HandoffQueueStats struct {
	TotalQueued int64                     `json:"total_queued"`
	ByPriority  map[HandoffPriority]int64 `json:"by_priority"`
}
