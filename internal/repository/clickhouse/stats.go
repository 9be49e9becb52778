package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
)

// Compile-time check
var _ session.AnalyticsRepository = (*StatsRepository)(nil)

// StatsRepository serves the aggregation queries over the sessions table
type StatsRepository struct {
	conn driver.Conn
}

func NewStatsRepository(conn driver.Conn) *StatsRepository {
	return &StatsRepository{conn: conn}
}

// DailyStats returns per-day activity rollups for the user over the last
// `days` days, newest first
func (r *StatsRepository) DailyStats(ctx context.Context, userID string, days int) ([]session.DailyStat, error) {
	if days <= 0 || days > 365 {
		days = 30
	}

	query := `
		SELECT
			toStartOfDay(ended_at)        AS day,
			user_id,
			count()                       AS sessions,
			sum(total_duration_ms)        AS total_duration_ms,
			sum(total_lines_changed)      AS lines_changed,
			sum(total_characters_typed)   AS characters_typed
		FROM coding_sessions FINAL
		WHERE user_id = ? AND ended_at >= ?
		GROUP BY day, user_id
		ORDER BY day DESC`

	since := time.Now().UTC().AddDate(0, 0, -days)

	var stats []session.DailyStat
	if err := r.conn.Select(ctx, &stats, query, userID, since); err != nil {
		return nil, errors.Wrap(err, "failed to query daily stats")
	}
	return stats, nil
}

// TopLanguages returns total coding milliseconds per language for the user
// over the last `days` days
func (r *StatsRepository) TopLanguages(ctx context.Context, userID string, days int, limit int) (map[string]int64, error) {
	if days <= 0 || days > 365 {
		days = 30
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `
		SELECT language, sum(total_duration_ms) AS total_ms
		FROM coding_sessions FINAL
		WHERE user_id = ? AND ended_at >= ? AND language != ''
		GROUP BY language
		ORDER BY total_ms DESC
		LIMIT ?`

	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := r.conn.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query top languages")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			language string
			totalMs  int64
		)
		if err := rows.Scan(&language, &totalMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan language row")
		}
		out[language] = totalMs
	}
	return out, rows.Err()
}
