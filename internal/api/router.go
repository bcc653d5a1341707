package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/labkit/instrumental/internal/auth"
	"github.com/labkit/instrumental/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Bench dashboard; it authenticates its own API calls.
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermInstrumentRead))
				r.Get("/instruments", s.handleListInstruments)
				r.Get("/open", s.handleListOpen)
				r.Get("/open/{id}", s.handleGetOpen)
				r.Get("/open/{id}/facets/{facet}", s.handleGetFacet)
				r.Get("/aliases", s.handleListAliases)
				r.Get("/audit", s.handleListAudit)
				r.Get("/ws", s.handleWebSocket)
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermInstrumentOperate))
				r.Post("/open", s.handleOpen)
				r.Delete("/open/{id}", s.handleClose)
				r.Put("/open/{id}/facets/{facet}", s.handleSetFacet)
			})

			r.With(requirePermission(auth.PermAliasManage)).Post("/open/{id}/alias", s.handleSaveAlias)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"open":    len(s.resolver.Session().OpenInstruments()),
		"clients": s.hub.ClientCount(),
	})
}
