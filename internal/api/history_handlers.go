package api

import (
	"net/http"

	"github.com/starford/yoloprep/internal/prepservice"
)

// HistoryStats handles GET /history/stats.
//
//	@Summary		Summarize the training history
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	history.Stats
//	@Security		BearerAuth
//	@Router			/history/stats [get]
func (h *Handler) HistoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.HistoryStats(r.Context()))
}

// ListSessions handles GET /history/sessions.
//
//	@Summary		List recorded training sessions
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/history/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Sessions(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// RecordSession handles POST /history/sessions.
//
//	@Summary		Record a training session
//	@Tags			history
//	@Accept			json
//	@Produce		json
//	@Param			body	body		prepservice.SessionInput	true	"Session"
//	@Success		201		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/sessions [post]
func (h *Handler) RecordSession(w http.ResponseWriter, r *http.Request) {
	var in prepservice.SessionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.svc.RecordSession(r.Context(), in)
	if err != nil {
		writeError(w, "record session", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// FilterRequest is the body of POST /history/filter.
type FilterRequest struct {
	Paths  []string `json:"paths"`
	Strict bool     `json:"strict"`
}

// FilterUntrained handles POST /history/filter.
//
//	@Summary		Keep only the image paths no session has used
//	@Tags			history
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FilterRequest	true	"Candidate paths"
//	@Success		200		{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/history/filter [post]
func (h *Handler) FilterUntrained(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	untrained := h.svc.FilterUntrained(r.Context(), req.Paths, req.Strict)
	if untrained == nil {
		untrained = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"untrained": untrained,
		"excluded":  len(req.Paths) - len(untrained),
	})
}

// ClearHistory handles DELETE /history.
//
//	@Summary		Erase every recorded session
//	@Tags			history
//	@Success		204
//	@Security		BearerAuth
//	@Router			/history [delete]
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearHistory(r.Context()); err != nil {
		writeError(w, "clear history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
