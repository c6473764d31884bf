/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/financings", func(r chi.Router) {
			r.Post("/", h.CreateFinancing)
			r.Get("/{id}/installments", h.ListInstallments)
			r.Get("/{id}/installments/history", h.InstallmentsWithHistory)
			r.Post("/{id}/payments/principal", h.PayPrincipal)
			r.Post("/{id}/payments/late-fees", h.PayLateFees)
			r.Post("/{id}/rebuild", h.RebuildLedger)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/cancel", h.CancelPayment)
		})

		r.Post("/schedule/preview", h.PreviewSchedule)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/accrue", h.AccrueLateFees)
		})
	})

	return r
}
