package analytics

import (
	"context"
	"sync"
	"time"
)

// Record is one agent response outcome
type Record struct {
	Agent        string        `json:"agent"`
	SessionID    string        `json:"session_id"`
	MessageID    string        `json:"message_id"`
	Intent       string        `json:"intent"`
	Confidence   float64       `json:"confidence"`
	ResponseTime time.Duration `json:"-"`
	Success      bool          `json:"success"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AgentStats aggregates every Record for one agent
type AgentStats struct {
	Agent               string  `json:"agent_name"`
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseTimeMS   float64 `json:"avg_response_time_ms"`
	TotalResponseTimeMS float64 `json:"-"`
}

func (s *AgentStats) add(r Record) {
	s.TotalRequests++
	if r.Success {
		s.SuccessfulRequests++
	} else {
		s.FailedRequests++
	}
	s.TotalResponseTimeMS += durationMS(r.ResponseTime)
	s.derive()
}

func (s *AgentStats) derive() {
	if s.TotalRequests == 0 {
		s.SuccessRate = 0
		s.AvgResponseTimeMS = 0
		return
	}
	s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	s.AvgResponseTimeMS = s.TotalResponseTimeMS / float64(s.TotalRequests)
}

// Sink receives per-response analytics. Recording is best-effort and
// must never fail the chat turn.
type Sink interface {
	RecordResponse(ctx context.Context, r Record) error
	AgentStats(ctx context.Context, agent string) (AgentStats, error)
}

// MemorySink aggregates in process memory when Redis is not configured
type MemorySink struct {
	mu    sync.Mutex
	stats map[string]*AgentStats
}

func NewMemorySink() *MemorySink {
	return &MemorySink{stats: make(map[string]*AgentStats)}
}

func (m *MemorySink) RecordResponse(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[r.Agent]
	if !ok {
		s = &AgentStats{Agent: r.Agent}
		m.stats[r.Agent] = s
	}
	s.add(r)
	return nil
}

func (m *MemorySink) AgentStats(ctx context.Context, agent string) (AgentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stats[agent]; ok {
		return *s, nil
	}
	return AgentStats{Agent: agent}, nil
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
