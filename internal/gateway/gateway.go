package gateway

import (
	"context"
	"time"

	"codepulse/internal/domain/session"
	"codepulse/internal/metrics"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// TokenResolver is the auth collaborator. The gateway never issues or
// validates tokens itself.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (userID string, err error)
}

// EventSink receives normalized events; implemented by the reconciler
type EventSink interface {
	Offer(ctx context.Context, ev session.Event) error
}

// RawEvent is the ingress wire shape shared by both transports. IsActive is
// a pointer because the request transport omits it, which means an implicit
// final event for the file's current session.
type RawEvent struct {
	FileName        string `json:"fileName"`
	FilePath        string `json:"filePath"`
	Language        string `json:"language"`
	Folder          string `json:"folder"`
	DurationMs      int64  `json:"duration"`
	LinesChanged    int64  `json:"linesChanged"`
	CharactersTyped int64  `json:"charactersTyped"`
	Seq             int64  `json:"seq"`
	IsActive        *bool  `json:"isActive,omitempty"`
}

// AckStatus tells the client what happened to its event
type AckStatus string

const (
	AckAccepted  AckStatus = "accepted"
	AckDuplicate AckStatus = "duplicate"
)

// Ack is the immediate response to an accepted event. It never waits for
// persistence; durability failures are handled downstream.
type Ack struct {
	Status AckStatus `json:"status"`
	Seq    int64     `json:"seq"`
}

// Config tunes the gateway
type Config struct {
	// DedupWindow is how long a (user, file, seq) identity is remembered
	DedupWindow time.Duration
}

// Gateway normalizes raw events from both transports, authenticates the
// emitting user, drops exact retransmissions and hands the rest to the sink
type Gateway struct {
	resolver TokenResolver
	sink     EventSink
	dedup    *dedupTable
	log      *logger.Logger
}

// New creates a gateway in front of the given sink
func New(cfg Config, resolver TokenResolver, sink EventSink) *Gateway {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}

	return &Gateway{
		resolver: resolver,
		sink:     sink,
		dedup:    newDedupTable(cfg.DedupWindow),
		log:      logger.Get().With("component", "gateway"),
	}
}

// Ingest authenticates, validates and normalizes one raw event, then offers
// it to the sink. Each failure class maps to a distinct sentinel so the
// client can decide to retry, buffer or drop.
func (g *Gateway) Ingest(ctx context.Context, raw RawEvent, transport session.Transport, token string) (Ack, error) {
	userID, err := g.resolver.Resolve(ctx, token)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(string(transport), "unauthorized").Inc()
		return Ack{}, errors.Wrap(errors.ErrUnauthorized, "token resolution failed")
	}

	ev := g.normalize(raw, transport, userID)

	if err := session.Validate(ev); err != nil {
		metrics.EventsIngested.WithLabelValues(string(transport), "malformed").Inc()
		g.log.Warnw("dropping malformed event",
			"user_id", userID,
			"file", raw.FilePath,
			"error", err,
		)
		return Ack{}, err
	}

	// The same logical update arrives on both transports as a client-side
	// reliability measure; the seen-window is the only place that collapses
	// them back to one
	if ev.SeqID > 0 && g.dedup.seen(ev.Key(), ev.SeqID) {
		metrics.EventsIngested.WithLabelValues(string(transport), "duplicate").Inc()
		metrics.DedupDrops.Inc()
		return Ack{Status: AckDuplicate, Seq: ev.SeqID}, nil
	}

	if err := g.sink.Offer(ctx, ev); err != nil {
		// The event never reached the reconciler, so its identity must not
		// stay in the seen-window or the client's retry would be collapsed
		// as a duplicate.
		if ev.SeqID > 0 {
			g.dedup.forget(ev.Key(), ev.SeqID)
		}
		if errors.Is(err, errors.ErrOverloaded) {
			metrics.EventsIngested.WithLabelValues(string(transport), "overloaded").Inc()
			return Ack{}, err
		}
		metrics.EventsIngested.WithLabelValues(string(transport), "error").Inc()
		return Ack{}, errors.Wrap(err, "offer to reconciler")
	}

	metrics.EventsIngested.WithLabelValues(string(transport), "accepted").Inc()
	return Ack{Status: AckAccepted, Seq: ev.SeqID}, nil
}

// normalize maps the wire shape onto the canonical event model. A missing
// isActive flag defaults to active on the stream and to an implicit final
// event on the request transport, preserving the existing client contract.
func (g *Gateway) normalize(raw RawEvent, transport session.Transport, userID string) session.Event {
	active := transport == session.TransportStream
	if raw.IsActive != nil {
		active = *raw.IsActive
	}

	return session.Event{
		UserID:          userID,
		FileName:        raw.FileName,
		FilePath:        raw.FilePath,
		Language:        raw.Language,
		Folder:          raw.Folder,
		Timestamp:       time.Now().UTC(),
		DurationMs:      raw.DurationMs,
		LinesChanged:    raw.LinesChanged,
		CharactersTyped: raw.CharactersTyped,
		IsActive:        active,
		SeqID:           raw.Seq,
		Transport:       transport,
	}
}
