package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates via single-use ticket, obtained on a
		// protected route; browsers cannot set an Authorization header on
		// the upgrade request.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/system/status", s.handleSystemStatus)
			r.Get("/fleet/stats", s.handleFleetStats)
			r.Get("/fleet/events", s.handleFleetEvents)

			r.Route("/cameras", func(r chi.Router) {
				r.Get("/", s.handleListCameras)
				r.Post("/", s.handleCreateCamera)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCamera)
					r.Patch("/", s.handleUpdateCamera)
					r.Delete("/", s.handleDeleteCamera)
					r.Get("/state", s.handleCameraState)
					r.Post("/connect", s.handleConnectCamera)
					r.Post("/disconnect", s.handleDisconnectCamera)
					r.Post("/command", s.handleCameraCommand)
					r.Put("/tally", s.handleSetTally)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
