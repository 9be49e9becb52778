package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

// Compile-time check
var _ session.RepairLog = (*RepairLogRepository)(nil)

// RepairLogRepository records partially persisted sessions. The full session
// payload is stored alongside the record so a repair pass can replay the
// write even when the missing store was postgres itself at record time.
type RepairLogRepository struct {
	db DBTX
}

func NewRepairLogRepository(db *sqlx.DB) *RepairLogRepository {
	return &RepairLogRepository{db: db}
}

// NewRepairLogRepositoryTx builds the repository over a transaction
func NewRepairLogRepositoryTx(tx DBTX) *RepairLogRepository {
	return &RepairLogRepository{db: tx}
}

// Record upserts one repair entry keyed by session_id and failed store
func (r *RepairLogRepository) Record(ctx context.Context, rec *session.RepairRecord, sess *session.Reconciled) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session payload")
	}

	query := `
		INSERT INTO session_repairs (
			session_id, failed_store, attempts, last_error, payload, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, failed_store) DO UPDATE SET
			attempts    = session_repairs.attempts + EXCLUDED.attempts,
			last_error  = EXCLUDED.last_error,
			payload     = EXCLUDED.payload,
			recorded_at = EXCLUDED.recorded_at,
			repaired_at = NULL`

	_, err = r.db.ExecContext(ctx, query,
		rec.SessionID, rec.FailedStore, rec.Attempts, rec.LastError, payload, rec.RecordedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record session repair")
	}
	return nil
}

// ListPending returns unrepaired entries, oldest first
func (r *RepairLogRepository) ListPending(ctx context.Context, limit int) ([]*session.RepairRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT session_id, failed_store, attempts, last_error, recorded_at, repaired_at
		FROM session_repairs
		WHERE repaired_at IS NULL
		ORDER BY recorded_at ASC
		LIMIT $1`

	var records []*session.RepairRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list pending repairs")
	}
	return records, nil
}

// LoadSession replays the stored payload of a repair entry
func (r *RepairLogRepository) LoadSession(ctx context.Context, sessionID string) (*session.Reconciled, error) {
	query := `
		SELECT payload FROM session_repairs
		WHERE session_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	var payload []byte
	if err := r.db.GetContext(ctx, &payload, query, sessionID); err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "repair payload for session %s: %v", sessionID, err)
	}

	var sess session.Reconciled
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal repair payload")
	}
	return &sess, nil
}

// MarkRepaired closes the repair entry for one session and store
func (r *RepairLogRepository) MarkRepaired(ctx context.Context, sessionID, failedStore string) error {
	query := `
		UPDATE session_repairs
		SET repaired_at = $3
		WHERE session_id = $1 AND failed_store = $2 AND repaired_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, sessionID, failedStore, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to mark repair done")
	}
	return nil
}
