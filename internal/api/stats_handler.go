package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codepulse/internal/domain/session"
	redisrepo "codepulse/internal/repository/redis"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

// Resolver authenticates a presented token into a user id
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RecentLister serves the user's recently finalized sessions
type RecentLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]session.Reconciled, error)
}

// StatsHandler serves the read-side endpoints: daily rollups, language
// totals, recent sessions and the leaderboard. All endpoints resolve the
// caller from the bearer token.
type StatsHandler struct {
	resolver    Resolver
	analytics   session.AnalyticsRepository
	sessions    RecentLister
	leaderboard *redisrepo.Leaderboard
	presence    *redisrepo.Presence
	log         *logger.Logger
}

func NewStatsHandler(
	resolver Resolver,
	analytics session.AnalyticsRepository,
	sessions RecentLister,
	leaderboard *redisrepo.Leaderboard,
	presence *redisrepo.Presence,
) *StatsHandler {
	return &StatsHandler{
		resolver:    resolver,
		analytics:   analytics,
		sessions:    sessions,
		leaderboard: leaderboard,
		presence:    presence,
		log:         logger.Get().With("component", "stats_api"),
	}
}

// HandleDailyStats serves GET /api/v1/stats/daily?days=30
func (h *StatsHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	stats, err := h.analytics.DailyStats(r.Context(), userID, queryInt(r, "days", 30))
	if err != nil {
		h.serveError(w, err, "failed to load daily stats")
		return
	}
	h.serveJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "days": stats})
}

// HandleTopLanguages serves GET /api/v1/stats/languages?days=30&limit=10
func (h *StatsHandler) HandleTopLanguages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	languages, err := h.analytics.TopLanguages(r.Context(),
		userID, queryInt(r, "days", 30), queryInt(r, "limit", 10))
	if err != nil {
		h.serveError(w, err, "failed to load language totals")
		return
	}
	h.serveJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "languages": languages})
}

// HandleRecentSessions serves GET /api/v1/sessions/recent?limit=50
func (h *StatsHandler) HandleRecentSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListRecent(r.Context(), userID, queryInt(r, "limit", 50))
	if err != nil {
		h.serveError(w, err, "failed to load recent sessions")
		return
	}
	h.serveJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "sessions": sessions})
}

// HandleLeaderboard serves GET /api/v1/leaderboard?day=2026-08-29&limit=10.
// The day defaults to today UTC. The caller's own entry is attached even
// when outside the top cut.
func (h *StatsHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.serveJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	top, err := h.leaderboard.Top(r.Context(), day, queryInt(r, "limit", 10))
	if err != nil {
		h.serveError(w, err, "failed to load leaderboard")
		return
	}

	response := map[string]interface{}{
		"day": day.Format("2006-01-02"),
		"top": top,
	}
	if me, err := h.leaderboard.Rank(r.Context(), userID, day); err == nil {
		response["me"] = me
	}
	h.serveJSON(w, http.StatusOK, response)
}

// HandlePresence serves GET /api/v1/presence/{userID is the caller}
func (h *StatsHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	online, err := h.presence.IsOnline(r.Context(), userID)
	if err != nil {
		h.serveError(w, err, "failed to check presence")
		return
	}
	h.serveJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "online": online})
}

func (h *StatsHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.Header.Get("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	userID, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		h.serveJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *StatsHandler) serveError(w http.ResponseWriter, err error, msg string) {
	h.log.Errorw(msg, "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, errors.ErrNotFound) {
		status = http.StatusNotFound
	}
	h.serveJSON(w, status, map[string]string{"error": msg})
}

func (h *StatsHandler) serveJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warnw("failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
