package consumers

import (
	"context"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codepulse/internal/adapters/kafka"
	"codepulse/pkg/errors"
)

func TestHandleMessage_RejectsGarbage(t *testing.T) {
	lc := &LeaderboardConsumer{}

	err := lc.handleMessage(nil, kafkago.Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestHandleMessage_RejectsMissingUser(t *testing.T) {
	lc := &LeaderboardConsumer{}

	payload := []byte(`{"sessionId":"s1","durationMs":1000,"endedAt":"` +
		time.Now().UTC().Format(time.RFC3339) + `"}`)
	err := lc.handleMessage(nil, kafkago.Message{Value: payload})
	assert.ErrorIs(t, err, errors.ErrMalformed)
}

func TestStart_ReturnsCleanlyOnShutdown(t *testing.T) {
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "codepulse-test-leaderboard",
		Topic:   kafka.TopicSessionsFinalized,
	})
	defer consumer.Close()

	lc := NewLeaderboardConsumer(consumer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Cancelled before the first read, so the loop exits without touching
	// the broker and shutdown reports clean.
	require.NoError(t, lc.Start(ctx))
}
