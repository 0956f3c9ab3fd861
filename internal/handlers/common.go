package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/owmeta/stats-api/internal/models"
)

const internalError = "internal server error"

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warnw("Failed to write response", "error", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// serverError logs err and answers 500 without exposing it.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Errorw(msg, "path", r.URL.Path, "error", err)
	h.errorResponse(w, http.StatusInternalServerError, internalError)
}

// playerParams reads the {battletag} path segment and the platform query.
func playerParams(r *http.Request) (battletag, platform string) {
	return models.CanonicalBattletag(chi.URLParam(r, "battletag")),
		models.NormalizePlatform(r.URL.Query().Get("platform"))
}

// intQuery parses an integer query parameter, returning def when absent or invalid.
func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
