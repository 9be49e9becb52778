package fanout

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"codepulse/pkg/logger"
)

// Resolver authenticates a live-feed token into a user id
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// PresenceTracker keeps the "currently coding" flag for a user alive while a
// live connection exists
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 25 * time.Second
)

// LiveHandler exposes the hub over a websocket endpoint. One connection
// subscribes to exactly one user's feed, chosen by the presented token.
type LiveHandler struct {
	hub      *Hub
	resolver Resolver
	presence PresenceTracker
	ttl      time.Duration

	upgrader websocket.Upgrader
}

func NewLiveHandler(hub *Hub, resolver Resolver, presence PresenceTracker, presenceTTL time.Duration) *LiveHandler {
	if presenceTTL <= 0 {
		presenceTTL = 2 * time.Minute
	}
	return &LiveHandler{
		hub:      hub,
		resolver: resolver,
		presence: presence,
		ttl:      presenceTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleLive upgrades the request and streams the user's session updates
// until the client disconnects
func (h *LiveHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	log := logger.Get().With("component", "live_feed")

	userID, err := h.resolver.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("live upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(userID)
	defer sub.Close()

	if h.presence != nil {
		if err := h.presence.MarkOnline(r.Context(), userID); err != nil {
			log.Warnw("presence mark online failed", "user_id", userID, "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.presence.MarkOffline(ctx, userID); err != nil {
				log.Warnw("presence mark offline failed", "user_id", userID, "error", err)
			}
		}()
	}

	log.Infow("live subscriber attached", "user_id", userID)

	// Reader only consumes control frames; a read error means the client left.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	refresh := time.NewTicker(h.ttl / 2)
	defer refresh.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-refresh.C:
			if h.presence != nil {
				if err := h.presence.MarkOnline(r.Context(), userID); err != nil {
					log.Warnw("presence refresh failed", "user_id", userID, "error", err)
				}
			}
		case <-gone:
			return
		}
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
