package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/yoloprep/internal/prepservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *prepservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *prepservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListClasses handles GET /classes.
//
//	@Summary		List registered classes in ID order
//	@Tags			classes
//	@Produce		json
//	@Success		200	{object}	prepservice.ClassList
//	@Security		BearerAuth
//	@Router			/classes [get]
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Classes(r.Context()))
}

// AddClassRequest is the body of POST /classes.
type AddClassRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Position is the insertion index; omitted appends.
	Position *int `json:"position,omitempty"`
}

// AddClass handles POST /classes.
//
//	@Summary		Add a class
//	@Tags			classes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddClassRequest	true	"Class to add"
//	@Success		201		{object}	prepservice.ClassList
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/classes [post]
func (h *Handler) AddClass(w http.ResponseWriter, r *http.Request) {
	var req AddClassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pos := -1
	if req.Position != nil {
		pos = *req.Position
	}
	list, err := h.svc.AddClass(r.Context(), req.Name, req.Description, pos)
	if err != nil {
		writeError(w, "add class", err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// RemoveClass handles DELETE /classes/{name}.
//
//	@Summary		Remove a class; later classes shift down by one ID
//	@Tags			classes
//	@Produce		json
//	@Param			name	path		string	true	"Class name"
//	@Success		200		{object}	prepservice.ClassList
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/classes/{name} [delete]
func (h *Handler) RemoveClass(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.RemoveClass(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "remove class", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ClassesRequest carries an ordered class list.
type ClassesRequest struct {
	Classes []string `json:"classes"`
}

// ReorderClasses handles PUT /classes/order.
//
//	@Summary		Replace the class order with a permutation of the current set
//	@Tags			classes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ClassesRequest	true	"New order"
//	@Success		200		{object}	prepservice.ClassList
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/classes/order [put]
func (h *Handler) ReorderClasses(w http.ResponseWriter, r *http.Request) {
	var req ClassesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := h.svc.ReorderClasses(r.Context(), req.Classes)
	if err != nil {
		writeError(w, "reorder classes", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ValidateClasses handles POST /classes/validate.
//
//	@Summary		Compare a class list with the registry order
//	@Tags			classes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ClassesRequest	true	"Candidate list"
//	@Success		200		{object}	prepservice.Validation
//	@Security		BearerAuth
//	@Router			/classes/validate [post]
func (h *Handler) ValidateClasses(w http.ResponseWriter, r *http.Request) {
	var req ClassesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.ValidateClasses(r.Context(), req.Classes))
}

// SyncRequest names the plain-text class file; empty uses the default.
type SyncRequest struct {
	Path string `json:"path"`
}

// SyncFrom handles POST /classes/sync-from.
//
//	@Summary		Replace the registry order with a plain-text class file
//	@Tags			classes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SyncRequest	false	"Class file"
//	@Success		200		{object}	prepservice.SyncResult
//	@Security		BearerAuth
//	@Router			/classes/sync-from [post]
func (h *Handler) SyncFrom(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.SyncFromFile(r.Context(), req.Path)
	if err != nil {
		writeError(w, "sync from file", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncTo handles POST /classes/sync-to.
//
//	@Summary		Write the registry order to a plain-text class file
//	@Tags			classes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SyncRequest	false	"Class file"
//	@Success		200		{object}	prepservice.SyncResult
//	@Security		BearerAuth
//	@Router			/classes/sync-to [post]
func (h *Handler) SyncTo(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.SyncToFile(r.Context(), req.Path)
	if err != nil {
		writeError(w, "sync to file", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AnalyzeDataset handles GET /datasets/analyze.
//
//	@Summary		Check an existing YOLO dataset for class inconsistencies
//	@Tags			datasets
//	@Produce		json
//	@Param			path	query		string	true	"Dataset directory"
//	@Success		200		{object}	registry.DatasetReport
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/datasets/analyze [get]
func (h *Handler) AnalyzeDataset(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	rep, err := h.svc.AnalyzeDataset(r.Context(), path)
	if err != nil {
		writeError(w, "analyze dataset", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
