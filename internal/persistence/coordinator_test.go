package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

type stubStore struct {
	name string

	mu       sync.Mutex
	written  []*session.Reconciled
	failures int // number of leading calls that fail
	calls    int
}

func (s *stubStore) Name() string { return s.name }

func (s *stubStore) WriteSession(ctx context.Context, sess *session.Reconciled) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("store down")
	}
	s.written = append(s.written, sess)
	return nil
}

func (s *stubStore) writtenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

type stubRepairLog struct {
	mu       sync.Mutex
	records  []*session.RepairRecord
	sessions map[string]*session.Reconciled
	repaired []string
}

func newStubRepairLog() *stubRepairLog {
	return &stubRepairLog{sessions: make(map[string]*session.Reconciled)}
}

func (l *stubRepairLog) Record(ctx context.Context, rec *session.RepairRecord, sess *session.Reconciled) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	l.sessions[rec.SessionID] = sess
	return nil
}

func (l *stubRepairLog) ListPending(ctx context.Context, limit int) ([]*session.RepairRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*session.RepairRecord, 0, len(l.records))
	for _, r := range l.records {
		if r.RepairedAt == nil {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *stubRepairLog) LoadSession(ctx context.Context, sessionID string) (*session.Reconciled, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return sess, nil
}

func (l *stubRepairLog) MarkRepaired(ctx context.Context, sessionID, failedStore string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repaired = append(l.repaired, sessionID)
	now := time.Now().UTC()
	for _, r := range l.records {
		if r.SessionID == sessionID && r.FailedStore == failedStore {
			r.RepairedAt = &now
		}
	}
	return nil
}

func testSession() *session.Reconciled {
	return &session.Reconciled{
		SessionID:            uuid.New(),
		UserID:               "user-1",
		FilePath:             "/src/main.go",
		FileName:             "main.go",
		Language:             "go",
		StartedAt:            time.Now().Add(-time.Minute).UTC(),
		EndedAt:              time.Now().UTC(),
		TotalDurationMs:      45000,
		TotalLinesChanged:    12,
		TotalCharactersTyped: 300,
	}
}

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestCoordinator_BothStoresAck(t *testing.T) {
	pg := &stubStore{name: "postgres"}
	ch := &stubStore{name: "clickhouse"}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	sess := testSession()
	outcome := coord.Persist(context.Background(), sess)

	assert.True(t, outcome.Finalized)
	assert.Empty(t, outcome.Failed())
	assert.Equal(t, 1, pg.writtenCount())
	assert.Equal(t, 1, ch.writtenCount())
	assert.Empty(t, repairs.records)

	// The stored copies carry the finalized flag; the caller's session is
	// left untouched because live subscribers still read it concurrently.
	assert.True(t, pg.written[0].Finalized)
	assert.True(t, ch.written[0].Finalized)
	assert.False(t, sess.Finalized)
}

func TestCoordinator_OneStoreDown_FinalizedWithRepair(t *testing.T) {
	pg := &stubStore{name: "postgres"}
	ch := &stubStore{name: "clickhouse", failures: 100}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	sess := testSession()
	outcome := coord.Persist(context.Background(), sess)

	assert.True(t, outcome.Finalized)
	assert.False(t, sess.Finalized)
	assert.Equal(t, []string{"clickhouse"}, outcome.Failed())
	assert.ErrorIs(t, outcome.Errors["clickhouse"], errors.ErrRetriesExhausted)
	assert.Equal(t, 1, pg.writtenCount())
	assert.Equal(t, 0, ch.writtenCount())

	require.Len(t, repairs.records, 1)
	rec := repairs.records[0]
	assert.Equal(t, sess.SessionID.String(), rec.SessionID)
	assert.Equal(t, "clickhouse", rec.FailedStore)
	assert.NotEmpty(t, rec.LastError)
}

func TestCoordinator_TransientFailureRetriedWithinBudget(t *testing.T) {
	pg := &stubStore{name: "postgres", failures: 2}
	ch := &stubStore{name: "clickhouse"}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	outcome := coord.Persist(context.Background(), testSession())

	assert.True(t, outcome.Finalized)
	assert.Empty(t, outcome.Failed())
	assert.Equal(t, 1, pg.writtenCount())
	assert.Equal(t, 3, pg.calls)
	assert.Empty(t, repairs.records)
}

func TestCoordinator_BothStoresDown(t *testing.T) {
	pg := &stubStore{name: "postgres", failures: 100}
	ch := &stubStore{name: "clickhouse", failures: 100}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	sess := testSession()
	outcome := coord.Persist(context.Background(), sess)

	assert.False(t, outcome.Finalized)
	assert.False(t, sess.Finalized)
	assert.ElementsMatch(t, []string{"postgres", "clickhouse"}, outcome.Failed())
	// Both misses land in the repair log.
	assert.Len(t, repairs.records, 2)
}

func TestCoordinator_SubmitAndDrain(t *testing.T) {
	pg := &stubStore{name: "postgres"}
	ch := &stubStore{name: "clickhouse"}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	for i := 0; i < 5; i++ {
		coord.Submit(testSession())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coord.Drain(ctx))

	assert.Equal(t, 5, pg.writtenCount())
	assert.Equal(t, 5, ch.writtenCount())
}

func TestRepairWorker_ReplaysPendingIntoFailedStore(t *testing.T) {
	pg := &stubStore{name: "postgres"}
	ch := &stubStore{name: "clickhouse", failures: 100}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)

	sess := testSession()
	coord.Persist(context.Background(), sess)
	require.Len(t, repairs.records, 1)

	// Store recovers.
	ch.mu.Lock()
	ch.failures = 0
	ch.calls = 0
	ch.mu.Unlock()

	worker := NewRepairWorker(repairs, []session.Store{pg, ch}, time.Hour)
	n, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, ch.writtenCount())
	assert.Equal(t, sess.SessionID, ch.written[0].SessionID)
	assert.True(t, ch.written[0].Finalized)
	assert.Equal(t, []string{sess.SessionID.String()}, repairs.repaired)

	// Repaired entries are not listed again.
	n, err = worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepairWorker_StoreStillDown(t *testing.T) {
	pg := &stubStore{name: "postgres"}
	ch := &stubStore{name: "clickhouse", failures: 100}
	repairs := newStubRepairLog()
	coord := NewCoordinator([]session.Store{pg, ch}, repairs, fastConfig(), nil)
	coord.Persist(context.Background(), testSession())

	worker := NewRepairWorker(repairs, []session.Store{pg, ch}, time.Hour)
	n, err := worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repairs.repaired)

	pending, err := repairs.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
