package session

import (
	"context"
	"time"
)

// Store is one durable sink for reconciled sessions. Both stores are treated
// as opaque idempotent-on-session-id sinks: writing the same session twice
// must be safe.
type Store interface {
	// Name identifies the store in logs, metrics and repair records
	Name() string

	// WriteSession durably stores one reconciled session
	WriteSession(ctx context.Context, sess *Reconciled) error
}

// RepairRecord marks a session that reached only one of the two stores and
// needs an out-of-band retry for the other
type RepairRecord struct {
	SessionID   string     `db:"session_id"`
	FailedStore string     `db:"failed_store"`
	Attempts    int        `db:"attempts"`
	LastError   string     `db:"last_error"`
	RecordedAt  time.Time  `db:"recorded_at"`
	RepairedAt  *time.Time `db:"repaired_at"`
}

// RepairLog records and lists partially persisted sessions.
// Upsert is keyed by session_id so a repair pass stays idempotent.
type RepairLog interface {
	Record(ctx context.Context, rec *RepairRecord, sess *Reconciled) error
	ListPending(ctx context.Context, limit int) ([]*RepairRecord, error)
	LoadSession(ctx context.Context, sessionID string) (*Reconciled, error)
	MarkRepaired(ctx context.Context, sessionID, failedStore string) error
}

// DailyStat is one per-day rollup row served by the aggregation queries
type DailyStat struct {
	Day             time.Time `ch:"day" json:"day"`
	UserID          string    `ch:"user_id" json:"userId"`
	Sessions        uint64    `ch:"sessions" json:"sessions"`
	TotalDurationMs int64     `ch:"total_duration_ms" json:"totalDurationMs"`
	LinesChanged    int64     `ch:"lines_changed" json:"linesChanged"`
	CharactersTyped int64     `ch:"characters_typed" json:"charactersTyped"`
}

// AnalyticsRepository is the read side over the ClickHouse sessions table
type AnalyticsRepository interface {
	DailyStats(ctx context.Context, userID string, days int) ([]DailyStat, error)
	TopLanguages(ctx context.Context, userID string, days int, limit int) (map[string]int64, error)
}
