package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sort"
	"strings"
	"time"
)

const readyCheckTimeout = 2 * time.Second

// Health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// Ready check endpoint
// @Summary Readiness
// @Description Pings every backing service and reports queue depths
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]bool, len(names))
	allHealthy := true
	for _, name := range names {
		err := h.checks[name](ctx)
		checks[name] = err == nil
		if err != nil {
			allHealthy = false
			h.logger.Warnw("Readiness check failed", "check", name, "error", err)
		}
	}

	body := map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	}
	if h.queue != nil {
		if ready, dead, err := h.queue.Depths(); err == nil {
			body["queueDepth"] = ready
			body["deadLetterDepth"] = dead
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}
	h.jsonResponse(w, status, body)
}

// passStatus is the public view of one aggregation pass. Pass errors stay in
// the logs.
type passStatus struct {
	Pass       string `json:"pass"`
	OK         bool   `json:"ok"`
	Rows       int64  `json:"rows"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type recalculateResponse struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Failed     int          `json:"failed"`
	Passes     []passStatus `json:"passes"`
}

const passFailed = "pass failed"

// Recalculate runs every aggregation pass now and returns the per-pass results.
// @Summary Recalculate derived statistics
// @Tags Admin
// @Produce json
// @Security AdminToken
// @Success 200 {object} recalculateResponse
// @Failure 401 {object} map[string]string
// @Failure 500 {object} recalculateResponse
// @Router /api/v1/admin/recalculate [post]
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	run := h.aggregator.Run(r.Context(), "admin")

	resp := recalculateResponse{
		RunID:      run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Passes:     make([]passStatus, 0, len(run.Passes)),
	}
	for _, p := range run.Passes {
		ps := passStatus{
			Pass:       p.Pass,
			OK:         p.Error == "",
			Rows:       p.Rows,
			DurationMS: p.Duration.Milliseconds(),
		}
		if !ps.OK {
			ps.Error = passFailed
			resp.Failed++
			h.logger.Errorw("Aggregation pass failed", "runId", run.ID, "pass", p.Pass, "error", p.Error)
		}
		resp.Passes = append(resp.Passes, ps)
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusInternalServerError
	}
	h.jsonResponse(w, status, resp)
}

// AdminAuth requires the configured admin token in X-Admin-Token or a Bearer
// Authorization header. With no token configured the admin routes are open.
func (h *Handler) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			h.errorResponse(w, http.StatusUnauthorized, "Missing admin token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.logger.Warnw("Rejected admin request", "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
			h.errorResponse(w, http.StatusUnauthorized, "Invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
