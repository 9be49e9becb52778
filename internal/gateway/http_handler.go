package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"codepulse/internal/domain/session"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// HTTPHandler serves the request/response fallback transport. Clients that
// cannot hold a stream open (or are flushing a backlog on editor shutdown)
// POST the same wire shape here; a submission without isActive closes the
// file's current session.
type HTTPHandler struct {
	gw  *Gateway
	log *logger.Logger
}

// NewHTTPHandler creates the fallback transport handler
func NewHTTPHandler(gw *Gateway) *HTTPHandler {
	return &HTTPHandler{
		gw:  gw,
		log: logger.Get().With("component", "gateway_http"),
	}
}

// HandleSubmit accepts one telemetry event per request
func (h *HTTPHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var raw RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ack, err := h.gw.Ingest(r.Context(), raw, session.TransportRequest, bearerToken(r))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Errorw("ingest failed", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	status := http.StatusAccepted
	if ack.Status == AckDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, ack)
}

// statusFor maps the ingest error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
