package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		WorkerCount:        4,
		MaxQueueSize:       100,
		EnqueueTimeoutMS:   50,
		SessionLockIdleTTL: 600,
	}
}

func newTestManager(t *testing.T, cfg *config.Config, fn ProcessFunc) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	m := NewManager(cfg, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	m.SetProcessFunc(fn)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func waitIdle(t *testing.T, m *Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func enqueue(t *testing.T, m *Manager, session, text string) string {
	id, err := m.Enqueue(context.Background(), EnqueueRequest{
		ConnectionID: "conn-" + session,
		SessionID:    session,
		Text:         text,
	})
	require.NoError(t, err)
	return id
}

// commitAll is a process function that commits every message
func commitAll(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
	ticket.Commit()
	return nil
}

func TestManager_PerSessionOrderingAndExclusion(t *testing.T) {
	var mu sync.Mutex
	order := make(map[string][]string)
	inFlight := make(map[string]int)
	overlap := false

	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		mu.Lock()
		inFlight[msg.SessionID]++
		if inFlight[msg.SessionID] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		order[msg.SessionID] = append(order[msg.SessionID], msg.Text)
		inFlight[msg.SessionID]--
		mu.Unlock()

		ticket.Commit()
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	sessions := []string{"s1", "s2", "s3"}
	expected := make(map[string][]string)
	for i := 0; i < 20; i++ {
		for _, s := range sessions {
			text := fmt.Sprintf("%s-%02d", s, i)
			enqueue(t, m, s, text)
			expected[s] = append(expected[s], text)
		}
	}

	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, overlap, "two messages of one session ran concurrently")
	for _, s := range sessions {
		assert.Equal(t, expected[s], order[s])
	}

	stats := m.Stats()
	assert.Equal(t, int64(60), stats.MessagesProcessed)
	assert.Equal(t, int64(60), stats.MessagesQueued)
	assert.Equal(t, 0, stats.InFlight)
}

func TestManager_CancelBeforeDispatch(t *testing.T) {
	var processed int32
	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		atomic.AddInt32(&processed, 1)
		ticket.Commit()
		return nil
	})

	var resp models.MessageResponse
	id, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID:  "s1",
		Text:       "What's the price of laptops?",
		OnComplete: func(r models.MessageResponse) { resp = r },
	})
	require.NoError(t, err)

	assert.True(t, m.Cancel(id))
	assert.False(t, m.Cancel(id), "second cancel of the same message")

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	assert.Equal(t, int32(0), atomic.LoadInt32(&processed))
	assert.Equal(t, models.StatusCancelled, resp.Status)
	assert.Equal(t, int64(1), m.Stats().MessagesCancelled)
}

func TestManager_CancelAfterCompletion(t *testing.T) {
	m := newTestManager(t, testConfig(), commitAll)
	require.NoError(t, m.Start(context.Background()))

	id := enqueue(t, m, "s1", "hello")
	waitIdle(t, m)

	assert.False(t, m.Cancel(id))
	assert.False(t, m.Cancel("unknown"))
}

func TestManager_CancelledMessageDoesNotBlockSession(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		mu.Lock()
		seen = append(seen, msg.Text)
		mu.Unlock()
		ticket.Commit()
		return nil
	})

	enqueue(t, m, "s1", "one")
	two := enqueue(t, m, "s1", "two")
	enqueue(t, m, "s1", "three")
	require.True(t, m.Cancel(two))

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "three"}, seen)
}

func TestManager_CancelSession(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		mu.Lock()
		seen = append(seen, msg.Text)
		mu.Unlock()
		ticket.Commit()
		return nil
	})

	enqueue(t, m, "s1", "a")
	enqueue(t, m, "s1", "b")
	enqueue(t, m, "s2", "c")
	enqueue(t, m, "s1", "d")

	assert.Equal(t, 3, m.CancelSession("s1"))
	assert.Equal(t, 0, m.CancelSession("s1"))

	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c"}, seen)
}

func TestManager_CancelWhileProcessing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	committed := make(chan bool, 1)

	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		close(started)
		<-release
		committed <- ticket.Commit()
		return nil
	})

	var resp models.MessageResponse
	done := make(chan struct{})
	id, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID: "s1",
		Text:      "slow question",
		OnComplete: func(r models.MessageResponse) {
			resp = r
			close(done)
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	<-started
	status, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusProcessing, status)

	assert.True(t, m.Cancel(id))
	close(release)

	assert.False(t, <-committed)
	<-done
	assert.Equal(t, models.StatusCancelled, resp.Status)
}

func TestManager_CancelAfterCommitIsRejected(t *testing.T) {
	committed := make(chan struct{})
	release := make(chan struct{})

	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		ticket.Commit()
		close(committed)
		<-release
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	id := enqueue(t, m, "s1", "hello")
	<-committed

	assert.False(t, m.Cancel(id))
	assert.Equal(t, 0, m.CancelSession("s1"))
	close(release)
	waitIdle(t, m)

	assert.Equal(t, int64(1), m.Stats().MessagesProcessed)
}

func TestManager_InterruptInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.InterruptInFlight = true

	started := make(chan struct{})
	m := newTestManager(t, cfg, func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, m.Start(context.Background()))

	var resp models.MessageResponse
	done := make(chan struct{})
	id, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID: "s1",
		Text:      "long running",
		OnComplete: func(r models.MessageResponse) {
			resp = r
			close(done)
		},
	})
	require.NoError(t, err)

	<-started
	assert.True(t, m.Cancel(id))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight message was not interrupted")
	}
	assert.Equal(t, models.StatusCancelled, resp.Status)
}

func TestManager_WorkflowTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WorkflowTimeout = 1

	m := newTestManager(t, cfg, func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, m.Start(context.Background()))

	var resp models.MessageResponse
	_, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID:  "s1",
		Text:       "never answers",
		OnComplete: func(r models.MessageResponse) { resp = r },
	})
	require.NoError(t, err)
	waitIdle(t, m)

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, context.DeadlineExceeded.Error())
}

func TestManager_RecoversFromPanics(t *testing.T) {
	var mu sync.Mutex
	responses := make(map[string]models.MessageResponse)

	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		if msg.Text == "boom" {
			panic("workflow exploded")
		}
		ticket.Commit()
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	for _, text := range []string{"boom", "after"} {
		text := text
		_, err := m.Enqueue(context.Background(), EnqueueRequest{
			SessionID: "s1",
			Text:      text,
			OnComplete: func(r models.MessageResponse) {
				mu.Lock()
				responses[text] = r
				mu.Unlock()
			},
		})
		require.NoError(t, err)
	}
	waitIdle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.StatusFailed, responses["boom"].Status)
	assert.Contains(t, responses["boom"].Error, "workflow exploded")
	assert.Equal(t, models.StatusCompleted, responses["after"].Status)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.MessagesFailed)
	assert.Equal(t, int64(1), stats.MessagesProcessed)
}

func TestManager_ProcessErrorIsFailure(t *testing.T) {
	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		return errors.New("llm unavailable")
	})
	require.NoError(t, m.Start(context.Background()))

	var resp models.MessageResponse
	_, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID:  "s1",
		Text:       "hi",
		OnComplete: func(r models.MessageResponse) { resp = r },
	})
	require.NoError(t, err)
	waitIdle(t, m)

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Equal(t, "llm unavailable", resp.Error)
}

func TestManager_Backpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 2
	cfg.EnqueueTimeoutMS = 20

	m := newTestManager(t, cfg, commitAll)

	enqueue(t, m, "s1", "one")
	enqueue(t, m, "s2", "two")

	_, err := m.Enqueue(context.Background(), EnqueueRequest{SessionID: "s3", Text: "three"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, m.QueueSize())
	assert.Equal(t, int64(2), m.Stats().MessagesQueued)

	// a rejected message must not hold up later messages of its session
	require.NoError(t, m.Start(context.Background()))
	waitIdle(t, m)
	enqueue(t, m, "s3", "three again")
	waitIdle(t, m)
	assert.Equal(t, int64(3), m.Stats().MessagesProcessed)
}

func TestManager_BlockedSessionDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	otherDone := make(chan struct{})

	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		if msg.SessionID == "slow" {
			<-release
		}
		ticket.Commit()
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	enqueue(t, m, "slow", "first")
	enqueue(t, m, "slow", "second")
	_, err := m.Enqueue(context.Background(), EnqueueRequest{
		SessionID:  "fast",
		Text:       "quick",
		OnComplete: func(models.MessageResponse) { close(otherDone) },
	})
	require.NoError(t, err)

	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("other session was blocked by a slow session")
	}
	close(release)
	waitIdle(t, m)
}

func TestManager_RejectsInvalidInput(t *testing.T) {
	m := newTestManager(t, testConfig(), commitAll)

	_, err := m.Enqueue(context.Background(), EnqueueRequest{SessionID: "s1", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestManager_StartRequiresProcessFunc(t *testing.T) {
	m := newTestManager(t, testConfig(), nil)
	assert.ErrorIs(t, m.Start(context.Background()), ErrNoProcessFunc)
}

func TestManager_ConcurrentStartLaunchesOnePool(t *testing.T) {
	m := newTestManager(t, testConfig(), commitAll)

	const callers = 16
	var wg sync.WaitGroup
	var started, rejected int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Start(context.Background())
			switch {
			case err == nil:
				atomic.AddInt32(&started, 1)
			case errors.Is(err, ErrAlreadyStarted):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started)
	assert.Equal(t, int32(callers-1), rejected)

	enqueue(t, m, "s1", "hello")
	waitIdle(t, m)
	assert.Equal(t, int64(1), m.Stats().MessagesProcessed)
}

func TestManager_StopDrainsAndRejects(t *testing.T) {
	var processed int32
	m := newTestManager(t, testConfig(), func(ctx context.Context, msg *models.QueuedMessage, ticket *Ticket) error {
		atomic.AddInt32(&processed, 1)
		ticket.Commit()
		return nil
	})
	require.NoError(t, m.Start(context.Background()))

	for i := 0; i < 10; i++ {
		enqueue(t, m, "s1", fmt.Sprintf("msg %d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, int32(10), atomic.LoadInt32(&processed))

	_, err := m.Enqueue(context.Background(), EnqueueRequest{SessionID: "s1", Text: "late"})
	assert.ErrorIs(t, err, ErrStopped)
}
