package events

import (
	"context"
	"time"

	"codepulse/internal/domain/session"
	"codepulse/internal/fanout"
	"codepulse/internal/persistence"
	"codepulse/internal/reconciler"
	"codepulse/pkg/logger"
)

// SessionProgressSnapshot is the live-feed payload for a still-open session
type SessionProgressSnapshot struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	FilePath        string    `json:"filePath"`
	FileName        string    `json:"fileName"`
	Language        string    `json:"language"`
	StartedAt       time.Time `json:"startedAt"`
	LastSeenAt      time.Time `json:"lastSeenAt"`
	DurationMs      int64     `json:"durationMs"`
	LinesChanged    int64     `json:"linesChanged"`
	CharactersTyped int64     `json:"charactersTyped"`
}

// Dispatcher routes reconciler output to its consumers: the dual-store
// coordinator, the live fan-out hub and the Kafka event stream. It is the
// single place where a closed session leaves the in-memory pipeline.
type Dispatcher struct {
	coordinator *persistence.Coordinator
	hub         *fanout.Hub
	publisher   *Publisher
	log         *logger.Logger
}

func NewDispatcher(coordinator *persistence.Coordinator, hub *fanout.Hub, publisher *Publisher) *Dispatcher {
	return &Dispatcher{
		coordinator: coordinator,
		hub:         hub,
		publisher:   publisher,
		log:         logger.Get().With("component", "dispatcher"),
	}
}

// SessionProgress pushes a progress snapshot to live subscribers
func (d *Dispatcher) SessionProgress(open *session.Open) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(open.UserID, fanout.TypeSessionProgress, SessionProgressSnapshot{
		SessionID:       open.SessionID.String(),
		UserID:          open.UserID,
		FilePath:        open.FilePath,
		FileName:        open.FileName,
		Language:        open.Language,
		StartedAt:       open.StartedAt,
		LastSeenAt:      open.LastSeenAt,
		DurationMs:      open.DurationMs,
		LinesChanged:    open.LinesChanged,
		CharactersTyped: open.CharactersTyped,
	})
}

// SessionReconciled persists the closed session, announces it to live
// subscribers and emits the finalized event
func (d *Dispatcher) SessionReconciled(sess *session.Reconciled, reason reconciler.CloseReason) {
	d.coordinator.Submit(sess)

	if d.hub != nil {
		d.hub.Publish(sess.UserID, fanout.TypeSessionFinalized, sess)
	}

	if d.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.publisher.PublishSessionFinalized(ctx, sess, string(reason)); err != nil {
			// Stores already have the session; the event stream is best effort.
			d.log.Warnw("finalized event not published",
				"session_id", sess.SessionID, "error", err)
		}
	}
}
