package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/owmeta/stats-api/internal/models"
	"github.com/owmeta/stats-api/internal/overfast"
	"github.com/owmeta/stats-api/internal/query"
)

// FetchPlayer queues an upstream fetch for one player.
// @Summary Fetch player
// @Description Fetches the player from upstream and queues the document for ingest
// @Tags Player
// @Produce json
// @Param battletag path string true "Battletag, Name-1234 or Name#1234"
// @Param platform query string false "pc or console"
// @Success 202 {object} overfast.Outcome
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /api/v1/players/{battletag}/fetch [post]
func (h *Handler) FetchPlayer(w http.ResponseWriter, r *http.Request) {
	battletag, platform := playerParams(r)
	ref := models.PlayerRef{Battletag: battletag, Platform: platform}

	err := h.fetcher.FetchAndPublish(r.Context(), ref)
	switch {
	case err == nil:
		h.jsonResponse(w, http.StatusAccepted, overfast.Outcome{
			Battletag: battletag,
			Platform:  platform,
			Status:    overfast.StatusQueued,
		})
	case errors.Is(err, overfast.ErrInvalidRef):
		h.errorResponse(w, http.StatusBadRequest, "invalid battletag or platform")
	case errors.Is(err, overfast.ErrNotFound):
		h.errorResponse(w, http.StatusNotFound, "player not found")
	case errors.Is(err, overfast.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		h.errorResponse(w, http.StatusServiceUnavailable, "upstream rate limited, retry later")
	case errors.Is(err, overfast.ErrMalformed):
		h.errorResponse(w, http.StatusBadGateway, "upstream returned an unreadable profile")
	default:
		h.serverError(w, r, "Player fetch failed", err)
	}
}

type fetchBatchRequest struct {
	Players []models.PlayerRef `json:"players" validate:"required,min=1,dive"`
}

// FetchPlayers queues fetches for a batch of players and reports each outcome.
// @Summary Fetch players
// @Tags Player
// @Accept json
// @Produce json
// @Success 200 {array} overfast.Outcome
// @Failure 400 {object} map[string]string
// @Router /api/v1/players/fetch [post]
func (h *Handler) FetchPlayers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	var req fetchBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "players must be a non-empty list of battletags")
		return
	}
	if len(req.Players) > MaxBatchPlayers {
		h.errorResponse(w, http.StatusBadRequest, "too many players in one request")
		return
	}

	outcomes, err := h.fetcher.FetchAndPublishMany(r.Context(), req.Players)
	if err != nil {
		h.serverError(w, r, "Batch fetch failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, outcomes)
}

// SearchPlayers matches battletags and usernames.
// @Summary Search players
// @Tags Player
// @Produce json
// @Param q query string true "Search text, at most 30 characters"
// @Param limit query int false "Maximum results"
// @Success 200 {array} models.PlayerSearchResult
// @Failure 400 {object} map[string]string
// @Router /api/v1/players/search [get]
func (h *Handler) SearchPlayers(w http.ResponseWriter, r *http.Request) {
	results, err := h.queries.SearchPlayers(r.Context(), r.URL.Query().Get("q"), intQuery(r, "limit", query.DefaultLimit))
	if errors.Is(err, query.ErrInvalidQuery) {
		h.errorResponse(w, http.StatusBadRequest, "query must be 1 to 30 characters")
		return
	}
	if err != nil {
		h.serverError(w, r, "Player search failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, results)
}

// RecentPlayers lists the most recently updated players.
// @Summary Recent players
// @Tags Player
// @Produce json
// @Success 200 {array} models.RecentPlayer
// @Router /api/v1/players/recent [get]
func (h *Handler) RecentPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := h.queries.RecentPlayers(r.Context(), intQuery(r, "limit", query.RecentLimit))
	if err != nil {
		h.serverError(w, r, "Recent players failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, players)
}

// GetPlayer returns the player profile.
// @Summary Player profile
// @Tags Player
// @Produce json
// @Param battletag path string true "Battletag"
// @Param platform query string false "pc or console"
// @Success 200 {object} models.PlayerProfile
// @Failure 404 {object} map[string]string
// @Router /api/v1/players/{battletag} [get]
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	battletag, platform := playerParams(r)

	profile, err := h.queries.PlayerProfile(r.Context(), battletag, platform)
	if err != nil {
		h.serverError(w, r, "Player profile failed", err)
		return
	}
	if profile == nil {
		h.errorResponse(w, http.StatusNotFound, "player not found")
		return
	}
	h.jsonResponse(w, http.StatusOK, profile)
}

func (h *Handler) GetPlayerMetadata(w http.ResponseWriter, r *http.Request) {
	battletag, platform := playerParams(r)

	meta, err := h.queries.PlayerMetadata(r.Context(), battletag, platform)
	if err != nil {
		h.serverError(w, r, "Player metadata failed", err)
		return
	}
	if meta == nil {
		h.errorResponse(w, http.StatusNotFound, "player not found")
		return
	}
	h.jsonResponse(w, http.StatusOK, meta)
}

// GetPlayerHistory returns archived SR snapshots, newest first.
// @Summary Player history
// @Tags Player
// @Produce json
// @Success 200 {array} models.SnapshotPoint
// @Router /api/v1/players/{battletag}/history [get]
func (h *Handler) GetPlayerHistory(w http.ResponseWriter, r *http.Request) {
	battletag, platform := playerParams(r)

	points, err := h.queries.PlayerHistory(r.Context(), battletag, platform, intQuery(r, "limit", query.MaxLimit))
	if err != nil {
		h.serverError(w, r, "Player history failed", err)
		return
	}
	h.jsonResponse(w, http.StatusOK, points)
}
