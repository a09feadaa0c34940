/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     Structured request logging (zap)
  4. CORS:       Cross-origin requests for the portal

ROUTE GROUPS:
  /healthz, /readyz     Probes (no auth)
  /api/auth/*           Session check
  /api/vouchers/*       Voucher operations, gated by role
  /api/scenarios/*      Demo data (admin)

ROLES:
  viewer    read
  operator  read + write
  admin     read + write + delete + manage

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication and role checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/superlink/voucher-engine/auth"
	"github.com/superlink/voucher-engine/voucher"
)

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Get("/auth/verify", h.VerifySession)

		r.Route("/vouchers", func(r chi.Router) {
			// Read
			r.Group(func(r chi.Router) {
				r.Use(h.Require(auth.ActionRead))
				r.Get("/", h.ListVouchers)
				r.Get("/search", h.SearchVouchers)
				r.Get("/stats", h.GetStats)
				r.Get("/export", h.ExportVouchers)
				r.Get("/code/{code}", h.LookupVoucher)
				r.Get("/{id}", h.GetVoucher)
				r.Post("/print", h.PrintVouchers)
			})

			// Write
			r.Group(func(r chi.Router) {
				r.Use(h.Require(auth.ActionWrite))
				r.Post("/", h.GenerateVouchers)
				r.Post("/batch", h.GenerateVouchers)
				r.Post("/activate", h.ApplyOperation(voucher.OpActivate))
				r.Post("/suspend", h.ApplyOperation(voucher.OpSuspend))
				r.Post("/expire", h.ApplyOperation(voucher.OpExpire))
				r.Post("/archive", h.ApplyOperation(voucher.OpArchive))
				r.Put("/{code}/expiration", h.UpdateExpiration)
			})

			// Delete
			r.Group(func(r chi.Router) {
				r.Use(h.Require(auth.ActionDelete))
				r.Post("/delete", h.DeleteVouchers)
				r.Delete("/{id}", h.DeleteVoucher)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Use(h.Require(auth.ActionManage))
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
