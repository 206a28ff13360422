package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/yoloprep/internal/prepservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *prepservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/classes", func(r chi.Router) {
		r.Get("/", h.ListClasses)
		r.Post("/", h.AddClass)
		r.Put("/order", h.ReorderClasses)
		r.Post("/validate", h.ValidateClasses)
		r.Post("/sync-from", h.SyncFrom)
		r.Post("/sync-to", h.SyncTo)
		r.Delete("/{name}", h.RemoveClass)
	})

	r.Get("/datasets/analyze", h.AnalyzeDataset)

	r.Route("/history", func(r chi.Router) {
		r.Get("/stats", h.HistoryStats)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.RecordSession)
		r.Post("/filter", h.FilterUntrained)
		r.Delete("/", h.ClearHistory)
	})

	r.Post("/convert", h.Convert)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
