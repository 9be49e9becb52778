package consumers

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"codepulse/internal/adapters/kafka"
	"codepulse/internal/events"
	redisrepo "codepulse/internal/repository/redis"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// LeaderboardConsumer tails sessions.finalized and folds each session into
// the per-day Redis leaderboard. Keeping the rollup on the event stream
// instead of the write path means a leaderboard outage never blocks
// persistence.
type LeaderboardConsumer struct {
	consumer    *kafka.Consumer
	leaderboard *redisrepo.Leaderboard
	log         *logger.Logger
}

func NewLeaderboardConsumer(consumer *kafka.Consumer, leaderboard *redisrepo.Leaderboard) *LeaderboardConsumer {
	return &LeaderboardConsumer{
		consumer:    consumer,
		leaderboard: leaderboard,
		log:         logger.Get().With("component", "leaderboard_consumer"),
	}
}

// Start consumes finalized sessions until the context is cancelled
func (lc *LeaderboardConsumer) Start(ctx context.Context) error {
	lc.log.Infow("leaderboard consumer started", "topic", kafka.TopicSessionsFinalized)

	err := lc.consumer.Consume(ctx, lc.handleMessage)
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		lc.log.Info("leaderboard consumer stopped")
		return nil
	}
	return err
}

func (lc *LeaderboardConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	var event events.SessionFinalizedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "failed to decode finalized session event")
	}
	if event.UserID == "" {
		return errors.Wrap(errors.ErrMalformed, "finalized session event without user id")
	}

	return lc.leaderboard.Add(ctx, event.UserID, event.EndedAt, event.DurationMs)
}
