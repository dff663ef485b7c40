package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionLocks serializes work per session in enqueue order.
//
// Every message reserves a sequence number for its session at enqueue time.
// A worker may only run the message whose number equals the session's next
// turn, so two messages of one session never overlap and never reorder.
// Messages that are dropped before running give their turn away with Skip.
type SessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	now     func() time.Time
}

type sessionEntry struct {
	reserved uint64
	next     uint64
	skipped  map[uint64]struct{}
	turn     chan struct{}
	lastUsed time.Time
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{
		entries: make(map[string]*sessionEntry),
		now:     time.Now,
	}
}

// Reserve hands out the next sequence number for sessionID, creating the
// entry on first use.
func (l *SessionLocks) Reserve(sessionID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[sessionID]
	if !ok {
		e = &sessionEntry{
			skipped: make(map[uint64]struct{}),
			turn:    make(chan struct{}),
		}
		l.entries[sessionID] = e
	}
	seq := e.reserved
	e.reserved++
	e.lastUsed = l.now()
	return seq
}

// Acquire blocks until seq is the session's current turn or ctx is done.
// A caller that gets an error must Skip seq.
func (l *SessionLocks) Acquire(ctx context.Context, sessionID string, seq uint64) error {
	for {
		l.mu.Lock()
		e, ok := l.entries[sessionID]
		if !ok {
			l.mu.Unlock()
			return fmt.Errorf("no reservation for session %s", sessionID)
		}
		if e.next == seq {
			e.lastUsed = l.now()
			l.mu.Unlock()
			return nil
		}
		turn := e.turn
		l.mu.Unlock()

		select {
		case <-turn:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release ends the turn of seq and wakes the waiters of the session.
func (l *SessionLocks) Release(sessionID string, seq uint64) {
	l.done(sessionID, seq)
}

// Skip gives up seq without running it. If seq is the current turn this is
// the same as Release, otherwise the turn is passed over once reached.
func (l *SessionLocks) Skip(sessionID string, seq uint64) {
	l.done(sessionID, seq)
}

func (l *SessionLocks) done(sessionID string, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[sessionID]
	if !ok {
		return
	}
	if seq != e.next {
		e.skipped[seq] = struct{}{}
		return
	}

	e.next++
	for {
		if _, ok := e.skipped[e.next]; !ok {
			break
		}
		delete(e.skipped, e.next)
		e.next++
	}
	e.lastUsed = l.now()

	close(e.turn)
	e.turn = make(chan struct{})
}

// Reap drops entries with no outstanding reservations that have been idle
// for longer than idle. It returns the number of entries removed.
func (l *SessionLocks) Reap(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for sessionID, e := range l.entries {
		if e.reserved == e.next && e.lastUsed.Before(cutoff) {
			delete(l.entries, sessionID)
			removed++
		}
	}
	return removed
}

// Len is the number of sessions currently tracked
func (l *SessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
