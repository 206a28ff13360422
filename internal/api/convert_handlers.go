package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/yoloprep/internal/prepservice"
)

// Convert handles POST /convert. The run is synchronous; progress is
// streamed on /events. Closing the request cancels the run between pairs.
//
//	@Summary		Convert a VOC source tree into a YOLO dataset
//	@Tags			convert
//	@Accept			json
//	@Produce		json
//	@Param			body	body		prepservice.ConvertRequest	true	"Conversion request"
//	@Success		200		{object}	prepservice.ConvertResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/convert [post]
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	req := prepservice.ConvertRequest{Config: h.svc.ConvertConfig("", "")}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Convert(r.Context(), req)
	if err != nil {
		writeError(w, "convert", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRuns handles GET /runs.
//
//	@Summary		List recent conversion runs
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Success		200		{object}	map[string]any
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /runs/{id}.
//
//	@Summary		Get one run with its converted items
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	prepservice.RunDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
