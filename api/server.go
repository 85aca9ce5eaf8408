/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontends
  6. RequireActor (API routes only): X-User-ID must be present

ROUTE GROUPS:
  /health                                   Liveness
  /api/v1/workspaces/{workspaceID}/*        Everything else, per tenant

SECURITY NOTE:
  Authentication is external. This server trusts X-User-ID and must sit
  behind a gateway that sets it.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1/workspaces/{workspaceID}", func(r chi.Router) {
		r.Use(RequireActor)

		// Leave request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{requestID}", h.GetRequest)
			r.Post("/{requestID}/approve", h.ApproveRequest)
			r.Post("/{requestID}/reject", h.RejectRequest)
			r.Post("/{requestID}/cancel", h.CancelRequest)
			r.Post("/{requestID}/notes", h.AnnotateRequest)
		})

		// Employee routes
		r.Route("/employees/{userID}", func(r chi.Router) {
			r.Post("/leave", h.BulkMarkLeave)
			r.Post("/activate", h.ActivateEmployee)
			r.Post("/deactivate", h.DeactivateEmployee)
			r.Get("/attendance", h.ListAttendance)
			r.Put("/attendance/{date}", h.OverrideAttendance)

			r.Route("/balances/{categoryID}", func(r chi.Router) {
				r.Get("/", h.GetBalance)
				r.Post("/recalculate", h.RecalculateBalance)
				r.Post("/carry-forward", h.CarryForward)
			})
		})

		// Workspace administration routes
		r.Get("/categories", h.ListCategories)
		r.Post("/categories", h.CreateCategory)
		r.Post("/members", h.AddMember)
		r.Post("/members/{userID}/deactivate", h.DeactivateMember)
		r.Post("/switch", h.SwitchWorkspace)
		r.Put("/kind", h.ChangeKind)
	})

	return r
}
