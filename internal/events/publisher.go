package events

import (
	"context"
	"time"

	"codepulse/internal/adapters/kafka"
	"codepulse/internal/domain/session"
	"codepulse/pkg/logger"
)

// SessionFinalizedEvent is published to sessions.finalized whenever a session
// closes. Keyed by user id so per-user ordering survives partitioning.
type SessionFinalizedEvent struct {
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	FilePath        string    `json:"filePath"`
	FileName        string    `json:"fileName"`
	Language        string    `json:"language"`
	Folder          string    `json:"folder"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationMs      int64     `json:"durationMs"`
	LinesChanged    int64     `json:"linesChanged"`
	CharactersTyped int64     `json:"charactersTyped"`
	CloseReason     string    `json:"closeReason"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Publisher publishes session lifecycle events to Kafka
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// PublishSessionFinalized emits one finalized-session event
func (p *Publisher) PublishSessionFinalized(ctx context.Context, sess *session.Reconciled, closeReason string) error {
	event := SessionFinalizedEvent{
		SessionID:       sess.SessionID.String(),
		UserID:          sess.UserID,
		FilePath:        sess.FilePath,
		FileName:        sess.FileName,
		Language:        sess.Language,
		Folder:          sess.Folder,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
		DurationMs:      sess.TotalDurationMs,
		LinesChanged:    sess.TotalLinesChanged,
		CharactersTyped: sess.TotalCharactersTyped,
		CloseReason:     closeReason,
		OccurredAt:      time.Now().UTC(),
	}

	if err := p.producer.Publish(ctx, kafka.TopicSessionsFinalized, sess.UserID, event); err != nil {
		p.log.Errorw("failed to publish finalized session",
			"session_id", event.SessionID, "error", err)
		return err
	}
	return nil
}
