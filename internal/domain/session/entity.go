package session

import (
	"time"

	"github.com/google/uuid"
)

// Transport identifies which channel delivered an event
type Transport string

const (
	TransportStream  Transport = "stream"
	TransportRequest Transport = "request"
)

// Event is one coding-activity observation emitted by a telemetry client.
// All counter fields are deltas since the previous observation for the same
// key, never cumulative totals, so lost or duplicated events stay safe to
// drop or merge additively.
type Event struct {
	UserID          string
	FileName        string
	FilePath        string
	Language        string
	Folder          string
	Timestamp       time.Time
	DurationMs      int64
	LinesChanged    int64
	CharactersTyped int64
	// IsActive=false signals the client considers the session terminated
	IsActive bool
	// SeqID is the transport sequence number assigned by the client,
	// used together with the key for retransmission dedup
	SeqID int64
	// Transport records which channel delivered the event
	Transport Transport
}

// Key identifies the single open session slot for a user and file
type Key struct {
	UserID   string
	FilePath string
}

// EventKey returns the session key of an event
func (e Event) Key() Key {
	return Key{UserID: e.UserID, FilePath: e.FilePath}
}

// Open is the mutable in-memory state of one running session.
// It is owned exclusively by the reconciler worker for its key.
type Open struct {
	SessionID       uuid.UUID
	UserID          string
	FileName        string
	FilePath        string
	Language        string
	Folder          string
	StartedAt       time.Time
	LastSeenAt      time.Time
	DurationMs      int64
	LinesChanged    int64
	CharactersTyped int64
	Closed          bool
}

// Reconciled is the immutable durable unit of truth produced when an open
// session closes, either by explicit end event or inactivity timeout
type Reconciled struct {
	SessionID            uuid.UUID `db:"session_id" json:"sessionId"`
	UserID               string    `db:"user_id" json:"userId"`
	FileName             string    `db:"file_name" json:"fileName"`
	FilePath             string    `db:"file_path" json:"filePath"`
	Language             string    `db:"language" json:"language"`
	Folder               string    `db:"folder" json:"folder"`
	StartedAt            time.Time `db:"started_at" json:"startedAt"`
	EndedAt              time.Time `db:"ended_at" json:"endedAt"`
	TotalDurationMs      int64     `db:"total_duration_ms" json:"totalDurationMs"`
	TotalLinesChanged    int64     `db:"total_lines_changed" json:"totalLinesChanged"`
	TotalCharactersTyped int64     `db:"total_characters_typed" json:"totalCharactersTyped"`
	// Finalized is set only after at least one store acknowledged the write
	Finalized bool `db:"finalized" json:"finalized"`
}

// Reconcile converts an open session into its immutable close product.
// EndedAt is the last observation time, not the reconcile wall-clock, so a
// timeout closure does not inflate the session span.
func (o *Open) Reconcile() *Reconciled {
	return &Reconciled{
		SessionID:            o.SessionID,
		UserID:               o.UserID,
		FileName:             o.FileName,
		FilePath:             o.FilePath,
		Language:             o.Language,
		Folder:               o.Folder,
		StartedAt:            o.StartedAt,
		EndedAt:              o.LastSeenAt,
		TotalDurationMs:      o.DurationMs,
		TotalLinesChanged:    o.LinesChanged,
		TotalCharactersTyped: o.CharactersTyped,
	}
}
