package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codepulse/pkg/errors"
)

// Presence tracks which users currently hold a live connection. Each online
// user owns one TTL key, so a crashed connection goes offline by expiry
// without any cleanup pass.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) key(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// MarkOnline sets or refreshes the user's presence key
func (p *Presence) MarkOnline(ctx context.Context, userID string) error {
	if err := p.client.Set(ctx, p.key(userID), time.Now().UTC().Unix(), p.ttl).Err(); err != nil {
		return errors.Wrapf(err, "failed to mark %s online", userID)
	}
	return nil
}

// MarkOffline drops the user's presence key
func (p *Presence) MarkOffline(ctx context.Context, userID string) error {
	if err := p.client.Del(ctx, p.key(userID)).Err(); err != nil {
		return errors.Wrapf(err, "failed to mark %s offline", userID)
	}
	return nil
}

// IsOnline reports whether the user's presence key is alive
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.key(userID)).Result()
	if err != nil && err != redis.Nil {
		return false, errors.Wrapf(err, "failed to check presence for %s", userID)
	}
	return n > 0, nil
}
