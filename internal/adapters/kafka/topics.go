package kafka

// Topic definitions for Kafka event streaming
const (
	// TopicSessionsFinalized carries one event per closed session, keyed by
	// user id. Consumed by the leaderboard rollup and any external sink.
	TopicSessionsFinalized = "sessions.finalized"
)
