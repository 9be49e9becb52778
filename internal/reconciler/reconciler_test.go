package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

// captureEmitter records everything the reconciler emits
type captureEmitter struct {
	mu         sync.Mutex
	progress   []*session.Open
	reconciled []*session.Reconciled
	reasons    []CloseReason
}

func (c *captureEmitter) SessionProgress(open *session.Open) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, open)
}

func (c *captureEmitter) SessionReconciled(rec *session.Reconciled, reason CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciled = append(c.reconciled, rec)
	c.reasons = append(c.reasons, reason)
}

func (c *captureEmitter) waitReconciled(t *testing.T, n int, timeout time.Duration) []*session.Reconciled {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.reconciled)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.GreaterOrEqual(t, len(c.reconciled), n, "expected %d reconciled sessions", n)
	out := make([]*session.Reconciled, len(c.reconciled))
	copy(out, c.reconciled)
	return out
}

// blockingEmitter parks the worker on its first progress emit until released
type blockingEmitter struct {
	captureEmitter
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmitter) SessionProgress(open *session.Open) {
	b.once.Do(func() { <-b.release })
	b.captureEmitter.SessionProgress(open)
}

func event(user, path string, durationMs, lines, chars int64, active bool, ts time.Time) session.Event {
	return session.Event{
		UserID:          user,
		FileName:        "a.ts",
		FilePath:        path,
		Language:        "typescript",
		Folder:          "src",
		Timestamp:       ts,
		DurationMs:      durationMs,
		LinesChanged:    lines,
		CharactersTyped: chars,
		IsActive:        active,
	}
}

func TestReconciler_SimpleSession(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 32, InactivityTimeout: time.Minute}, emitter)
	defer r.Shutdown(context.Background())

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 1000, 2, 20, true, now)))
	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 500, 1, 5, false, now.Add(time.Second))))

	recs := emitter.waitReconciled(t, 1, 2*time.Second)
	rec := recs[0]

	assert.Equal(t, int64(1500), rec.TotalDurationMs)
	assert.Equal(t, int64(3), rec.TotalLinesChanged)
	assert.Equal(t, int64(25), rec.TotalCharactersTyped)
	assert.Equal(t, now, rec.StartedAt)
	assert.Equal(t, now.Add(time.Second), rec.EndedAt)
	assert.Equal(t, ReasonCloseEvent, emitter.reasons[0])
}

func TestReconciler_NewSessionIDAfterClose(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 32, InactivityTimeout: time.Minute}, emitter)
	defer r.Shutdown(context.Background())

	now := time.Now()
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 100, 1, 1, false, now)))
	emitter.waitReconciled(t, 1, 2*time.Second)

	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 200, 2, 2, false, now.Add(time.Second))))
	recs := emitter.waitReconciled(t, 2, 2*time.Second)

	assert.NotEqual(t, recs[0].SessionID, recs[1].SessionID)
	assert.Equal(t, int64(100), recs[0].TotalDurationMs)
	assert.Equal(t, int64(200), recs[1].TotalDurationMs)
}

func TestReconciler_TimeoutClosure(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 32, InactivityTimeout: 50 * time.Millisecond}, emitter)
	defer r.Shutdown(context.Background())

	now := time.Now()
	require.NoError(t, r.Offer(context.Background(), event("u1", "/src/a.ts", 1000, 2, 20, true, now)))

	recs := emitter.waitReconciled(t, 1, 2*time.Second)
	assert.Equal(t, int64(1000), recs[0].TotalDurationMs)
	assert.Equal(t, ReasonTimeout, emitter.reasons[0])

	// A late event for the same key starts a new session, it does not reopen
	require.NoError(t, r.Offer(context.Background(), event("u1", "/src/a.ts", 400, 1, 4, false, now.Add(time.Minute))))
	recs = emitter.waitReconciled(t, 2, 2*time.Second)
	assert.NotEqual(t, recs[0].SessionID, recs[1].SessionID)
	assert.Equal(t, int64(400), recs[1].TotalDurationMs)
}

func TestReconciler_PerKeyIsolation(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 32, InactivityTimeout: time.Minute}, emitter)
	defer r.Shutdown(context.Background())

	now := time.Now()
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 100, 1, 1, true, now)))
	require.NoError(t, r.Offer(ctx, event("u1", "/src/b.ts", 200, 2, 2, true, now)))
	require.NoError(t, r.Offer(ctx, event("u2", "/src/a.ts", 300, 3, 3, true, now)))

	require.NoError(t, r.Offer(ctx, event("u1", "/src/a.ts", 0, 0, 0, false, now.Add(time.Second))))
	recs := emitter.waitReconciled(t, 1, 2*time.Second)

	// Only the closed key reconciled; the other two stay open
	require.Len(t, recs, 1)
	assert.Equal(t, "/src/a.ts", recs[0].FilePath)
	assert.Equal(t, "u1", recs[0].UserID)
	assert.Equal(t, int64(100), recs[0].TotalDurationMs)
}

func TestReconciler_Overload(t *testing.T) {
	// Stall the worker on its first progress emit so the queue actually
	// fills instead of racing the drain loop
	emitter := &blockingEmitter{release: make(chan struct{})}
	bound := 300
	r := New(Config{QueueBound: bound, InactivityTimeout: time.Minute}, emitter)

	now := time.Now()
	ctx := context.Background()

	accepted := 0
	overloaded := 0
	for i := 0; i < 1000; i++ {
		err := r.Offer(ctx, event("u1", "/src/a.ts", 1, 0, 1, true, now.Add(time.Duration(i)*time.Millisecond)))
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, errors.ErrOverloaded):
			overloaded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1000, accepted+overloaded)
	assert.GreaterOrEqual(t, accepted, bound)
	assert.Greater(t, overloaded, 0)

	// Every accepted event is eventually merged: unblock the worker, close
	// the session and check the totals account for exactly the accepted deltas
	close(emitter.release)
	require.NoError(t, r.Shutdown(context.Background()))

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.reconciled, 1)
	assert.Equal(t, int64(accepted), emitter.reconciled[0].TotalDurationMs)
	assert.Equal(t, int64(accepted), emitter.reconciled[0].TotalCharactersTyped)
}

func TestReconciler_ShutdownFlushesOpenSessions(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 32, InactivityTimeout: time.Minute}, emitter)

	now := time.Now()
	require.NoError(t, r.Offer(context.Background(), event("u1", "/src/a.ts", 700, 7, 70, true, now)))
	require.NoError(t, r.Offer(context.Background(), event("u2", "/src/b.ts", 900, 9, 90, true, now)))

	require.NoError(t, r.Shutdown(context.Background()))

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.reconciled, 2)
	for _, reason := range emitter.reasons {
		assert.Equal(t, ReasonShutdown, reason)
	}
}

func TestReconciler_IdleWorkerRetires(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 8, InactivityTimeout: 20 * time.Millisecond}, emitter)
	defer r.Shutdown(context.Background())

	require.NoError(t, r.Offer(context.Background(), event("u1", "/src/a.ts", 10, 0, 1, false, time.Now())))
	emitter.waitReconciled(t, 1, 2*time.Second)

	// After close plus one idle period the worker should be reaped
	assert.Eventually(t, func() bool {
		return r.ActiveKeys() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconciler_RejectsAfterShutdown(t *testing.T) {
	emitter := &captureEmitter{}
	r := New(Config{QueueBound: 8, InactivityTimeout: time.Minute}, emitter)
	require.NoError(t, r.Shutdown(context.Background()))

	err := r.Offer(context.Background(), event("u1", "/src/a.ts", 10, 0, 1, true, time.Now()))
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}
