package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

// StreamHandler serves the persistent bidirectional transport. Each frame is
// one RawEvent; every frame gets an ack or a typed error frame back, so the
// client can decide per event whether to retry over HTTP.
type StreamHandler struct {
	gw       *Gateway
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewStreamHandler creates the live-stream transport handler
func NewStreamHandler(gw *Gateway) *StreamHandler {
	return &StreamHandler{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Extensions and editors connect from arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Get().With("component", "gateway_stream"),
	}
}

// errorFrame is sent back on a failed ingest so the stream stays usable
type errorFrame struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Seq   int64  `json:"seq"`
}

// HandleStream upgrades the connection and pumps frames into the gateway.
// The token is taken once at upgrade but resolved per event, so revocation
// takes effect mid-stream.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// gorilla allows only one concurrent writer; acks and pings share it
	var writeMu sync.Mutex

	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(conn, &writeMu, stop)

	for {
		var raw RawEvent
		if err := conn.ReadJSON(&raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnw("stream read failed", "error", err)
			}
			return
		}

		ack, err := h.gw.Ingest(r.Context(), raw, session.TransportStream, token)

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err != nil {
			// Unauthorized kills the stream; everything else is per event
			frame := errorFrame{Error: err.Error(), Code: codeFor(err), Seq: raw.Seq}
			writeErr := conn.WriteJSON(frame)
			writeMu.Unlock()
			if writeErr != nil || errors.Is(err, errors.ErrUnauthorized) {
				return
			}
			continue
		}

		writeErr := conn.WriteJSON(ack)
		writeMu.Unlock()
		if writeErr != nil {
			return
		}
	}
}

func (h *StreamHandler) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// codeFor maps an ingest error onto the wire error code vocabulary
func codeFor(err error) string {
	switch {
	case errors.Is(err, errors.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errors.ErrMalformed):
		return "malformed"
	case errors.Is(err, errors.ErrOverloaded):
		return "overloaded"
	default:
		return "internal"
	}
}
