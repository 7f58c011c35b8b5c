/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. Logger:        Request logging
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the admin frontend
  5. RequireActor:  Identity of the acting user (under /api only)

ROUTE GROUPS:
  /api/leaves/manual/*   Manual leave administration
  /api/users/{id}/*      Per-user balance and history
  /healthz               Liveness, no authentication

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticators
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth Authenticator, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor(auth))

		// Manual leave routes
		r.Route("/leaves/manual", func(r chi.Router) {
			r.Get("/", h.ListManualLeaves)
			r.Post("/", h.AddLeave)
			r.Get("/{id}", h.GetManualLeave)
			r.Delete("/{id}", h.DeleteManualLeave)
		})

		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/leave-balance", h.GetBalance)
			r.Get("/leave-history", h.GetHistory)
		})
	})

	return r
}
