package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codepulse/pkg/errors"
)

// Leaderboard ranks users by coding milliseconds per UTC day, backed by one
// sorted set per day. Entries expire after the retention window so the
// keyspace stays bounded.
type Leaderboard struct {
	client    *redis.Client
	retention time.Duration
}

// Entry is one leaderboard row
type Entry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"userId"`
	DurationMs int64  `json:"durationMs"`
}

func NewLeaderboard(client *redis.Client, retention time.Duration) *Leaderboard {
	if retention <= 0 {
		retention = 35 * 24 * time.Hour
	}
	return &Leaderboard{client: client, retention: retention}
}

func (l *Leaderboard) key(day time.Time) string {
	return fmt.Sprintf("leaderboard:daily:%s", day.UTC().Format("2006-01-02"))
}

// Add credits coding time to the user on the day the session ended
func (l *Leaderboard) Add(ctx context.Context, userID string, endedAt time.Time, durationMs int64) error {
	if durationMs <= 0 {
		return nil
	}
	key := l.key(endedAt)

	pipe := l.client.TxPipeline()
	pipe.ZIncrBy(ctx, key, float64(durationMs), userID)
	pipe.Expire(ctx, key, l.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to update leaderboard %s", key)
	}
	return nil
}

// Top returns the highest ranked users for a day
func (l *Leaderboard) Top(ctx context.Context, day time.Time, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := l.client.ZRevRangeWithScores(ctx, l.key(day), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read leaderboard %s", l.key(day))
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		userID, _ := row.Member.(string)
		entries = append(entries, Entry{
			Rank:       i + 1,
			UserID:     userID,
			DurationMs: int64(row.Score),
		})
	}
	return entries, nil
}

// Rank returns the user's position on a day, 1-based, or ErrNotFound when
// the user has no activity that day
func (l *Leaderboard) Rank(ctx context.Context, userID string, day time.Time) (Entry, error) {
	key := l.key(day)

	rank, err := l.client.ZRevRank(ctx, key, userID).Result()
	if err == redis.Nil {
		return Entry{}, errors.Wrapf(errors.ErrNotFound, "user %s not ranked on %s", userID, key)
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "failed to read rank on %s", key)
	}

	score, err := l.client.ZScore(ctx, key, userID).Result()
	if err != nil && err != redis.Nil {
		return Entry{}, errors.Wrapf(err, "failed to read score on %s", key)
	}

	return Entry{
		Rank:       int(rank) + 1,
		UserID:     userID,
		DurationMs: int64(score),
	}, nil
}
