package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

// Compile-time check
var _ session.Store = (*SessionRepository)(nil)

// SessionRepository is the relational store for reconciled sessions.
// Writes upsert on session_id so coordinator retries and repair replays
// stay idempotent.
type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// NewSessionRepositoryTx builds the repository over a transaction, used by
// tests for isolation
func NewSessionRepositoryTx(tx DBTX) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Name identifies the store in logs, metrics and repair records
func (r *SessionRepository) Name() string { return "postgres" }

// WriteSession upserts one reconciled session
func (r *SessionRepository) WriteSession(ctx context.Context, sess *session.Reconciled) error {
	query := `
		INSERT INTO coding_sessions (
			session_id, user_id, file_name, file_path, language, folder,
			started_at, ended_at,
			total_duration_ms, total_lines_changed, total_characters_typed,
			finalized, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at               = EXCLUDED.ended_at,
			total_duration_ms      = EXCLUDED.total_duration_ms,
			total_lines_changed    = EXCLUDED.total_lines_changed,
			total_characters_typed = EXCLUDED.total_characters_typed,
			finalized              = EXCLUDED.finalized,
			updated_at             = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		sess.SessionID, sess.UserID, sess.FileName, sess.FilePath, sess.Language, sess.Folder,
		sess.StartedAt, sess.EndedAt,
		sess.TotalDurationMs, sess.TotalLinesChanged, sess.TotalCharactersTyped,
		sess.Finalized, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert coding session")
	}
	return nil
}

// GetByID returns one reconciled session
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*session.Reconciled, error) {
	query := `
		SELECT session_id, user_id, file_name, file_path, language, folder,
		       started_at, ended_at,
		       total_duration_ms, total_lines_changed, total_characters_typed,
		       finalized
		FROM coding_sessions
		WHERE session_id = $1`

	var sess session.Reconciled
	if err := r.db.GetContext(ctx, &sess, query, sessionID); err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s: %v", sessionID, err)
	}
	return &sess, nil
}

// ListRecent returns the user's most recently ended sessions
func (r *SessionRepository) ListRecent(ctx context.Context, userID string, limit int) ([]session.Reconciled, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT session_id, user_id, file_name, file_path, language, folder,
		       started_at, ended_at,
		       total_duration_ms, total_lines_changed, total_characters_typed,
		       finalized
		FROM coding_sessions
		WHERE user_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	var sessions []session.Reconciled
	if err := r.db.SelectContext(ctx, &sessions, query, userID, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list recent sessions")
	}
	return sessions, nil
}
