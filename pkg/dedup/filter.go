package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/constants"
	"support-chat-dispatcher/pkg/models"
)

const (
	ReasonUnique           = "unique"
	ReasonLegitimateRepeat = "legitimate_repeat"
)

type Options struct {
	Window              time.Duration
	CleanupInterval     time.Duration
	HistoryPerSession   int
	RetentionMultiplier int
}

func DefaultOptions() Options {
	return Options{
		Window:              constants.SecondsToDuration(constants.DefaultDedupWindowSeconds),
		CleanupInterval:     constants.SecondsToDuration(constants.DefaultDedupCleanupIntervalSeconds),
		HistoryPerSession:   constants.DefaultDedupHistoryPerSession,
		RetentionMultiplier: constants.DedupRetentionMultiplier,
	}
}

// Filter decides whether an inbound message is a retry of one accepted a
// moment ago. State is in-memory only; a restart forgets every record.
type Filter struct {
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.Mutex
	recent      map[string][]models.MessageRecord
	lastCleanup time.Time
}

type Stats struct {
	ActiveSessions       int     `json:"active_sessions"`
	TotalTrackedMessages int     `json:"total_tracked_messages"`
	WindowSeconds        float64 `json:"dedup_window_seconds"`
	SinceLastCleanup     float64 `json:"seconds_since_last_cleanup"`
}

func NewFilter(opts Options, logger *logrus.Logger) *Filter {
	defaults := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaults.CleanupInterval
	}
	if opts.HistoryPerSession <= 0 {
		opts.HistoryPerSession = defaults.HistoryPerSession
	}
	if opts.RetentionMultiplier <= 0 {
		opts.RetentionMultiplier = defaults.RetentionMultiplier
	}

	f := &Filter{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		recent: make(map[string][]models.MessageRecord),
	}
	f.lastCleanup = f.now()
	return f
}

// WithClock replaces the time source. Intended for tests.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
	f.lastCleanup = now()
	return f
}

// DuplicateReason is the reason reported for a hit inside the window, e.g. duplicate_within_30s
func (f *Filter) DuplicateReason() string {
	return fmt.Sprintf("duplicate_within_%ds", int(f.opts.Window/time.Second))
}

// Fingerprint hashes the session id with the lowercased, trimmed text
func Fingerprint(sessionID, text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(sessionID + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether text was accepted for the session within the
// window. The newest matching record decides the outcome.
func (f *Filter) IsDuplicate(sessionID, text string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastCleanup) > f.opts.CleanupInterval {
		f.sweepLocked(now)
	}

	hash := Fingerprint(sessionID, text)
	records := f.recent[sessionID]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Hash != hash {
			continue
		}

		elapsed := now.Sub(records[i].Timestamp)
		fields := logrus.Fields{
			"session_id": sessionID,
			"elapsed":    elapsed.String(),
		}
		if elapsed <= f.opts.Window {
			f.logger.WithFields(fields).Warn("Duplicate message detected")
			return true, f.DuplicateReason()
		}

		f.logger.WithFields(fields).Debug("Repeated message outside dedup window")
		return false, ReasonLegitimateRepeat
	}

	return false, ReasonUnique
}

// Record stores a fingerprint for an accepted message, keeping only the
// most recent HistoryPerSession records of the session.
func (f *Filter) Record(sessionID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record := models.MessageRecord{
		Hash:      Fingerprint(sessionID, text),
		SessionID: sessionID,
		Timestamp: f.now(),
		Preview:   preview(text),
	}

	records := append(f.recent[sessionID], record)
	if overflow := len(records) - f.opts.HistoryPerSession; overflow > 0 {
		records = append([]models.MessageRecord(nil), records[overflow:]...)
	}
	f.recent[sessionID] = records
}

func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, records := range f.recent {
		total += len(records)
	}
	return Stats{
		ActiveSessions:       len(f.recent),
		TotalTrackedMessages: total,
		WindowSeconds:        f.opts.Window.Seconds(),
		SinceLastCleanup:     f.now().Sub(f.lastCleanup).Seconds(),
	}
}

func (f *Filter) sweepLocked(now time.Time) {
	cutoff := now.Add(-f.opts.Window * time.Duration(f.opts.RetentionMultiplier))
	removed := 0

	for sessionID, records := range f.recent {
		kept := records[:0]
		for _, r := range records {
			if r.Timestamp.After(cutoff) {
				kept = append(kept, r)
			}
		}
		removed += len(records) - len(kept)
		if len(kept) == 0 {
			delete(f.recent, sessionID)
			continue
		}
		f.recent[sessionID] = kept
	}
	f.lastCleanup = now

	if removed > 0 {
		f.logger.WithField("removed", removed).Info("Cleaned up old dedup records")
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= constants.DedupPreviewLength {
		return text
	}
	return string(runes[:constants.DedupPreviewLength])
}
