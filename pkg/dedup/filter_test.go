package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFilter() (*Filter, *fakeClock) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	f := NewFilter(DefaultOptions(), logger).WithClock(clock.Now)
	return f, clock
}

func TestFilter_DuplicateWithinWindow(t *testing.T) {
	f, clock := newTestFilter()

	dup, reason := f.IsDuplicate("s1", "What's the price of laptops?")
	assert.False(t, dup)
	assert.Equal(t, ReasonUnique, reason)
	f.Record("s1", "What's the price of laptops?")

	clock.Advance(1 * time.Second)
	dup, reason = f.IsDuplicate("s1", "What's the price of laptops?")
	assert.True(t, dup)
	assert.Equal(t, "duplicate_within_30s", reason)
}

func TestFilter_NormalizesText(t *testing.T) {
	f, _ := newTestFilter()

	f.Record("s1", "  Hello There ")
	dup, _ := f.IsDuplicate("s1", "hello there")
	assert.True(t, dup)
}

func TestFilter_LegitimateRepeatAfterWindow(t *testing.T) {
	f, clock := newTestFilter()

	f.Record("s1", "iphone 15 price?")
	clock.Advance(31 * time.Second)

	dup, reason := f.IsDuplicate("s1", "iphone 15 price?")
	assert.False(t, dup)
	assert.Equal(t, ReasonLegitimateRepeat, reason)
}

func TestFilter_WindowBoundaryIsInclusive(t *testing.T) {
	f, clock := newTestFilter()

	f.Record("s1", "hi")
	clock.Advance(30 * time.Second)

	dup, _ := f.IsDuplicate("s1", "hi")
	assert.True(t, dup)
}

func TestFilter_NewestRecordWins(t *testing.T) {
	f, clock := newTestFilter()

	f.Record("s1", "order status")
	clock.Advance(40 * time.Second)
	f.Record("s1", "order status")
	clock.Advance(5 * time.Second)

	dup, _ := f.IsDuplicate("s1", "order status")
	assert.True(t, dup)
}

func TestFilter_SessionsAreIsolated(t *testing.T) {
	f, _ := newTestFilter()

	f.Record("s1", "same text")
	dup, reason := f.IsDuplicate("s2", "same text")
	assert.False(t, dup)
	assert.Equal(t, ReasonUnique, reason)
}

func TestFilter_HistoryIsCapped(t *testing.T) {
	f, _ := newTestFilter()

	for i := 0; i < 15; i++ {
		f.Record("s1", fmt.Sprintf("message %d", i))
	}

	assert.Equal(t, 10, f.Stats().TotalTrackedMessages)

	dup, reason := f.IsDuplicate("s1", "message 0")
	assert.False(t, dup)
	assert.Equal(t, ReasonUnique, reason)

	dup, _ = f.IsDuplicate("s1", "message 14")
	assert.True(t, dup)
}

func TestFilter_SweepRemovesExpiredSessions(t *testing.T) {
	f, clock := newTestFilter()

	f.Record("old", "first")
	clock.Advance(4 * time.Minute)
	f.Record("fresh", "second")

	stats := f.Stats()
	require.Equal(t, 2, stats.ActiveSessions)

	// next check runs after the cleanup interval has elapsed
	clock.Advance(61 * time.Second)
	f.IsDuplicate("fresh", "anything")

	stats = f.Stats()
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, 0, stats.TotalTrackedMessages)
}

func TestFilter_SweepKeepsRecentRecords(t *testing.T) {
	f, clock := newTestFilter()

	clock.Advance(5*time.Minute + time.Second)
	f.Record("s1", "recent")
	clock.Advance(time.Second)

	f.IsDuplicate("s1", "recent")
	assert.Equal(t, 1, f.Stats().TotalTrackedMessages)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("s", "Hi "), Fingerprint("s", "hi"))
	assert.NotEqual(t, Fingerprint("s1", "hi"), Fingerprint("s2", "hi"))
	assert.Len(t, Fingerprint("s", "hi"), 64)
}
