package gateway

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

// stubResolver maps fixed tokens to user ids
type stubResolver struct {
	users map[string]string
}

func (s *stubResolver) Resolve(_ context.Context, token string) (string, error) {
	if id, ok := s.users[token]; ok {
		return id, nil
	}
	return "", errors.ErrUnauthorized
}

// captureSink records offered events; optionally rejects with a fixed error,
// or sheds the first rejectNext offers the way a full queue would
type captureSink struct {
	mu         sync.Mutex
	events     []session.Event
	reject     error
	rejectNext int
}

func (c *captureSink) Offer(_ context.Context, ev session.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectNext > 0 {
		c.rejectNext--
		return errors.ErrOverloaded
	}
	if c.reject != nil {
		return c.reject
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestGateway(sink *captureSink) *Gateway {
	resolver := &stubResolver{users: map[string]string{"good-token": "u1"}}
	return New(Config{DedupWindow: time.Minute}, resolver, sink)
}

func active(b bool) *bool { return &b }

func rawEvent(seq int64) RawEvent {
	return RawEvent{
		FileName:        "a.ts",
		FilePath:        "/src/a.ts",
		Language:        "typescript",
		Folder:          "src",
		DurationMs:      1000,
		LinesChanged:    2,
		CharactersTyped: 20,
		Seq:             seq,
		IsActive:        active(true),
	}
}

func TestIngest_Accepted(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)

	ack, err := gw.Ingest(context.Background(), rawEvent(1), session.TransportStream, "good-token")
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack.Status)

	require.Equal(t, 1, sink.count())
	ev := sink.events[0]
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, session.TransportStream, ev.Transport)
	assert.True(t, ev.IsActive)
}

func TestIngest_Unauthorized(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)

	_, err := gw.Ingest(context.Background(), rawEvent(1), session.TransportStream, "bad-token")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
	// The event is dropped, never queued
	assert.Equal(t, 0, sink.count())
}

func TestIngest_Malformed(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)

	raw := rawEvent(1)
	raw.DurationMs = -50

	_, err := gw.Ingest(context.Background(), raw, session.TransportStream, "good-token")
	assert.ErrorIs(t, err, errors.ErrMalformed)
	assert.Equal(t, 0, sink.count())
}

func TestIngest_DuplicateAcrossTransports(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)
	ctx := context.Background()

	// Same logical update arrives on the stream and again over HTTP
	ack1, err := gw.Ingest(ctx, rawEvent(7), session.TransportStream, "good-token")
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack1.Status)

	ack2, err := gw.Ingest(ctx, rawEvent(7), session.TransportRequest, "good-token")
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack2.Status)

	// Merged exactly once
	assert.Equal(t, 1, sink.count())
}

func TestIngest_SeqZeroSkipsDedup(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)
	ctx := context.Background()

	raw := rawEvent(0)
	_, err := gw.Ingest(ctx, raw, session.TransportStream, "good-token")
	require.NoError(t, err)
	_, err = gw.Ingest(ctx, raw, session.TransportStream, "good-token")
	require.NoError(t, err)

	// Without a sequence id there is no dedup identity to collapse on
	assert.Equal(t, 2, sink.count())
}

func TestIngest_Overloaded(t *testing.T) {
	sink := &captureSink{reject: errors.ErrOverloaded}
	gw := newTestGateway(sink)

	_, err := gw.Ingest(context.Background(), rawEvent(1), session.TransportStream, "good-token")
	assert.ErrorIs(t, err, errors.ErrOverloaded)
}

func TestIngest_RetryAfterOverloadAccepted(t *testing.T) {
	sink := &captureSink{rejectNext: 1}
	gw := newTestGateway(sink)

	// Overloaded is a transient signal; the seen-window must not keep the
	// identity of an event the reconciler never took.
	_, err := gw.Ingest(context.Background(), rawEvent(7), session.TransportStream, "good-token")
	require.ErrorIs(t, err, errors.ErrOverloaded)
	assert.Equal(t, 0, sink.count())

	ack, err := gw.Ingest(context.Background(), rawEvent(7), session.TransportStream, "good-token")
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, 1, sink.count())
}

func TestNormalize_ImplicitFinalOnRequestTransport(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)

	raw := rawEvent(1)
	raw.IsActive = nil

	_, err := gw.Ingest(context.Background(), raw, session.TransportRequest, "good-token")
	require.NoError(t, err)

	require.Equal(t, 1, sink.count())
	// HTTP submissions omit isActive and close the file's current session
	assert.False(t, sink.events[0].IsActive)
}

func TestNormalize_StreamDefaultsToActive(t *testing.T) {
	sink := &captureSink{}
	gw := newTestGateway(sink)

	raw := rawEvent(1)
	raw.IsActive = nil

	_, err := gw.Ingest(context.Background(), raw, session.TransportStream, "good-token")
	require.NoError(t, err)

	require.Equal(t, 1, sink.count())
	assert.True(t, sink.events[0].IsActive)
}

func TestDedup_WindowExpiry(t *testing.T) {
	table := newDedupTable(20 * time.Millisecond)
	key := session.Key{UserID: "u1", FilePath: "/src/a.ts"}

	assert.False(t, table.seen(key, 1))
	assert.True(t, table.seen(key, 1))

	time.Sleep(30 * time.Millisecond)
	// Outside the window the identity is forgotten
	assert.False(t, table.seen(key, 1))
}

func TestDedup_DistinctKeysAndSeqs(t *testing.T) {
	table := newDedupTable(time.Minute)

	k1 := session.Key{UserID: "u1", FilePath: "/src/a.ts"}
	k2 := session.Key{UserID: "u1", FilePath: "/src/b.ts"}
	k3 := session.Key{UserID: "u2", FilePath: "/src/a.ts"}

	assert.False(t, table.seen(k1, 1))
	assert.False(t, table.seen(k1, 2))
	assert.False(t, table.seen(k2, 1))
	assert.False(t, table.seen(k3, 1))
	assert.True(t, table.seen(k1, 1))
}
