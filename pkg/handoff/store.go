package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"support-chat-dispatcher/pkg/models"
)

var (
	ErrHandoffNotFound  = errors.New("handoff not found")
	ErrStoreUnavailable = errors.New("handoff store unavailable")
)

// Store keeps one FIFO list per priority tier plus the retained records
// of every handoff for audit.
type Store interface {
	// Push appends req to the tail of its tier, saves the record and
	// returns the tier length after the append.
	Push(ctx context.Context, req *models.HandoffRequest) (int64, error)
	// Pop removes the head of the tier, returning nil when it is empty.
	Pop(ctx context.Context, priority models.HandoffPriority) (*models.HandoffRequest, error)
	Save(ctx context.Context, req *models.HandoffRequest) error
	Get(ctx context.Context, handoffID string) (*models.HandoffRequest, error)
	Len(ctx context.Context, priority models.HandoffPriority) (int64, error)
}

type memoryRecord struct {
	req       models.HandoffRequest
	expiresAt time.Time
}

// MemoryStore is a process-local Store used when Redis is not configured
type MemoryStore struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	tiers   map[models.HandoffPriority][]models.HandoffRequest
	records map[string]memoryRecord
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		now:       time.Now,
		tiers:     make(map[models.HandoffPriority][]models.HandoffRequest),
		records:   make(map[string]memoryRecord),
	}
}

func (s *MemoryStore) Push(ctx context.Context, req *models.HandoffRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[req.Priority] = append(s.tiers[req.Priority], *req)
	s.saveLocked(req)
	return int64(len(s.tiers[req.Priority])), nil
}

func (s *MemoryStore) Pop(ctx context.Context, priority models.HandoffPriority) (*models.HandoffRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier := s.tiers[priority]
	if len(tier) == 0 {
		return nil, nil
	}
	head := tier[0]
	s.tiers[priority] = tier[1:]
	return &head, nil
}

func (s *MemoryStore) Save(ctx context.Context, req *models.HandoffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveLocked(req)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, handoffID string) (*models.HandoffRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[handoffID]
	if !ok {
		return nil, ErrHandoffNotFound
	}
	if s.retention > 0 && s.now().After(rec.expiresAt) {
		delete(s.records, handoffID)
		return nil, ErrHandoffNotFound
	}
	req := rec.req
	return &req, nil
}

func (s *MemoryStore) Len(ctx context.Context, priority models.HandoffPriority) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.tiers[priority])), nil
}

func (s *MemoryStore) saveLocked(req *models.HandoffRequest) {
	s.records[req.HandoffID] = memoryRecord{
		req:       *req,
		expiresAt: s.now().Add(s.retention),
	}
}
