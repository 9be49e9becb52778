package clickhouse

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

// Compile-time check
var _ session.Store = (*SessionStore)(nil)

// SessionStore is the analytical sink for reconciled sessions. The backing
// table is a ReplacingMergeTree ordered by session_id, so coordinator retries
// and repair replays collapse to one row.
type SessionStore struct {
	conn driver.Conn
}

func NewSessionStore(conn driver.Conn) *SessionStore {
	return &SessionStore{conn: conn}
}

// Name identifies the store in logs, metrics and repair records
func (s *SessionStore) Name() string { return "clickhouse" }

// WriteSession inserts one reconciled session using the native batch protocol
func (s *SessionStore) WriteSession(ctx context.Context, sess *session.Reconciled) error {
	query := `
		INSERT INTO coding_sessions (
			session_id, user_id, file_name, file_path, language, folder,
			started_at, ended_at,
			total_duration_ms, total_lines_changed, total_characters_typed,
			finalized
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare session insert")
	}
	defer batch.Abort()

	err = batch.Append(
		sess.SessionID.String(), sess.UserID, sess.FileName, sess.FilePath, sess.Language, sess.Folder,
		sess.StartedAt, sess.EndedAt,
		sess.TotalDurationMs, sess.TotalLinesChanged, sess.TotalCharactersTyped,
		sess.Finalized,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append session row")
	}

	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send session insert")
	}
	return nil
}
