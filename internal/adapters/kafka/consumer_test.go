package kafka

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"codepulse/pkg/logger"
)

func TestConsume_StopsOnCancelledContext(t *testing.T) {
	c := &Consumer{log: logger.Get().With("component", "kafka_consumer")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The shutdown check runs before the reader is touched, so a cancelled
	// context unwinds the loop without any broker round trip.
	err := c.Consume(ctx, func(context.Context, kafkago.Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadMessageWithShutdownCheck_CancelledBeforeBlocking(t *testing.T) {
	c := &Consumer{log: logger.Get().With("component", "kafka_consumer")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ReadMessageWithShutdownCheck(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
