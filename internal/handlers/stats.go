package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetHeroStats returns per-hero statistics.
// @Summary Hero statistics
// @Description Win-rate ordering hides heroes under the games floor; pick-rate ordering lists all
// @Tags Stats
// @Produce json
// @Param gameMode query string false "competitive or quickplay, empty for all"
// @Param sort query string false "winrate or pickrate"
// @Success 200 {array} models.HeroStatistics
// @Router /api/v1/stats/heroes [get]
func (h *Handler) GetHeroStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := h.queries.HeroStatistics(r.Context(), q.Get("gameMode"), q.Get("sort"))
	if err != nil {
		h.serverError(w, r, "Hero statistics failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, stats)
}

// GetHeroTrends returns daily trend points for one hero.
// @Summary Hero trends
// @Tags Stats
// @Produce json
// @Param heroKey path string true "Hero key"
// @Param days query int false "Days of history, default 7"
// @Success 200 {array} models.HeroTrend
// @Router /api/v1/stats/heroes/{heroKey}/trends [get]
func (h *Handler) GetHeroTrends(w http.ResponseWriter, r *http.Request) {
	heroKey := chi.URLParam(r, "heroKey")

	trends, err := h.queries.HeroTrends(r.Context(), heroKey, r.URL.Query().Get("gameMode"), intQuery(r, "days", 7))
	if err != nil {
		h.serverError(w, r, "Hero trends failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, trends)
}

// GetRankDistribution returns the SR bracket distribution for a date,
// falling back to the latest snapshot when that date has none.
// @Summary Rank distribution
// @Tags Stats
// @Produce json
// @Param date query string false "YYYY-MM-DD, default today"
// @Success 200 {array} models.RankDistribution
// @Failure 400 {object} map[string]string
// @Router /api/v1/stats/ranks [get]
func (h *Handler) GetRankDistribution(w http.ResponseWriter, r *http.Request) {
	var date time.Time
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			h.errorResponse(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	dist, err := h.queries.RankDistribution(r.Context(), date)
	if err != nil {
		h.serverError(w, r, "Rank distribution failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, dist)
}

// GetRoleStats returns per-role statistics.
// @Summary Role statistics
// @Tags Stats
// @Produce json
// @Success 200 {array} models.RoleStatistics
// @Router /api/v1/stats/roles [get]
func (h *Handler) GetRoleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.RoleStatistics(r.Context(), r.URL.Query().Get("gameMode"))
	if err != nil {
		h.serverError(w, r, "Role statistics failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, stats)
}
