/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/accounts/*   Prediction rows, history, snapshots
  /api/reps/*       Rep listing and digest previews
  /api/runs/*       Batch run status
  /api/jobs/*       Manual batch triggers

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Get("/{code}", h.GetAccount)
			r.Get("/{code}/history", h.GetAccountHistory)
			r.Get("/{code}/snapshots", h.GetAccountSnapshots)
		})

		r.Route("/reps", func(r chi.Router) {
			r.Get("/", h.ListReps)
			r.Get("/{id}/digest", h.GetRepDigest)
		})

		r.Get("/runs/latest", h.GetLatestRun)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/aggregate", h.TriggerAggregate)
			r.Post("/reminders", h.TriggerReminders)
			r.Post("/digests", h.TriggerDigests)
		})
	})

	return r
}
