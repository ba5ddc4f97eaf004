/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the reception frontend

ROUTE GROUPS:
  /api/availability, /api/series, /api/sessions   Scheduling
  /api/payments, /api/refunds                     Billing
  /api/projects, /api/plans                       Fixed-price bundles
  /api/patients, /api/ledgers                     Ledger + directory
  /metrics                                        Prometheus

SECURITY NOTE:
  No authentication middleware; the engine sits behind the clinic's
  internal gateway which terminates auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/clinicd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Scheduling
		r.Post("/availability/check", h.CheckAvailability)
		r.Route("/series", func(r chi.Router) {
			r.Post("/preview", h.PreviewSeries)
			r.Post("/commit", h.CommitSeries)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.BookSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/transition", h.TransitionSession)
		})

		// Billing
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RegisterPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/void", h.VoidPayment)
			r.Post("/{id}/reattach", h.ReattachPayment)
		})
		r.Post("/refunds", h.RegisterRefund)
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Post("/{id}/transition", h.TransitionProject)
		})
		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.CreatePlan)
			r.Post("/{id}/transition", h.TransitionPlan)
		})

		// Ledger + directory
		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.ListPatients)
			r.Put("/", h.PutPatient)
			r.Get("/{id}", h.GetPatient)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/pending", h.ListPendingPayments)
		})
		r.Put("/professionals", h.PutProfessional)
		r.Put("/branches", h.PutBranch)
		r.Put("/services", h.PutService)

		r.Get("/ledgers/validate", h.ValidateLedgers)
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
