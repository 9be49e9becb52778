package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepulse/pkg/errors"
)

func baseEvent(t time.Time) Event {
	return Event{
		UserID:          "user-1",
		FileName:        "a.ts",
		FilePath:        "/src/a.ts",
		Language:        "typescript",
		Folder:          "src",
		Timestamp:       t,
		DurationMs:      1000,
		LinesChanged:    2,
		CharactersTyped: 20,
		IsActive:        true,
	}
}

func TestMerge_NewSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	open, err := Merge(nil, baseEvent(now))
	require.NoError(t, err)
	require.NotNil(t, open)

	assert.NotEqual(t, uuid.Nil, open.SessionID)
	assert.Equal(t, now, open.StartedAt)
	assert.Equal(t, now, open.LastSeenAt)
	assert.Equal(t, int64(1000), open.DurationMs)
	assert.Equal(t, int64(2), open.LinesChanged)
	assert.Equal(t, int64(20), open.CharactersTyped)
	assert.False(t, open.Closed)
}

func TestMerge_Additivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	deltas := []struct {
		duration, lines, chars int64
	}{
		{1000, 2, 20},
		{500, 1, 5},
		{0, 0, 0},
		{250, 10, 113},
	}

	var open *Open
	var err error
	var wantDuration, wantLines, wantChars int64

	for i, d := range deltas {
		ev := baseEvent(now.Add(time.Duration(i) * time.Second))
		ev.DurationMs = d.duration
		ev.LinesChanged = d.lines
		ev.CharactersTyped = d.chars

		open, err = Merge(open, ev)
		require.NoError(t, err)

		wantDuration += d.duration
		wantLines += d.lines
		wantChars += d.chars
	}

	assert.Equal(t, wantDuration, open.DurationMs)
	assert.Equal(t, wantLines, open.LinesChanged)
	assert.Equal(t, wantChars, open.CharactersTyped)
	assert.Equal(t, now, open.StartedAt)
	assert.Equal(t, now.Add(3*time.Second), open.LastSeenAt)
}

func TestMerge_CloseEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	open, err := Merge(nil, baseEvent(now))
	require.NoError(t, err)

	closeEv := baseEvent(now.Add(time.Second))
	closeEv.DurationMs = 500
	closeEv.LinesChanged = 1
	closeEv.CharactersTyped = 5
	closeEv.IsActive = false

	open, err = Merge(open, closeEv)
	require.NoError(t, err)
	assert.True(t, open.Closed)
	assert.Equal(t, int64(1500), open.DurationMs)
	assert.Equal(t, int64(3), open.LinesChanged)
	assert.Equal(t, int64(25), open.CharactersTyped)
}

func TestMerge_ClosedSessionRejectsFurtherEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	ev := baseEvent(now)
	ev.IsActive = false
	open, err := Merge(nil, ev)
	require.NoError(t, err)
	require.True(t, open.Closed)

	_, err = Merge(open, baseEvent(now.Add(time.Second)))
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
	// Totals stay untouched
	assert.Equal(t, int64(1000), open.DurationMs)
}

func TestValidate_NegativeDeltas(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"negative_duration", func(e *Event) { e.DurationMs = -1 }},
		{"negative_lines", func(e *Event) { e.LinesChanged = -5 }},
		{"negative_chars", func(e *Event) { e.CharactersTyped = -20 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := baseEvent(now)
			tt.mutate(&ev)

			_, err := Merge(nil, ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrNegativeDelta)
			assert.ErrorIs(t, err, errors.ErrMalformed)
		})
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing_user", func(e *Event) { e.UserID = "" }},
		{"missing_path", func(e *Event) { e.FilePath = "" }},
		{"missing_name", func(e *Event) { e.FileName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := baseEvent(now)
			tt.mutate(&ev)

			err := Validate(ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformed)
		})
	}
}

func TestReconcile_UsesLastSeenAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	last := start.Add(90 * time.Second)

	open, err := Merge(nil, baseEvent(start))
	require.NoError(t, err)
	open, err = Merge(open, baseEvent(last))
	require.NoError(t, err)

	rec := open.Reconcile()
	assert.Equal(t, start, rec.StartedAt)
	assert.Equal(t, last, rec.EndedAt)
	assert.Equal(t, open.SessionID, rec.SessionID)
	assert.False(t, rec.Finalized)
}
