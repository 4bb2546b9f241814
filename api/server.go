/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. RequestLogger: One zap line per request
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for the admin frontend
  6. TokenAuth:     Bearer JWT -> generic.Actor (everything under /api)

ROUTE GROUPS:
  /healthz                       Liveness, unauthenticated
  /api/me                        Caller's directory record
  /api/kinds/{kind}/*            Registry, live map, fees, per-kind actions
  /api/bookings/*                Booking lifecycle and invoice generation
  /api/invoices/*                Invoice queries and payment
  /api/switches/*                Available and mutual switch protocols
  /api/users/*                   Users directory (admin)
  /api/admin/*                   Sweeps, revenue, audit, outbox
  /api/scenarios/*               Demo data (admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configure the cross-cutting middleware.
type RouterOptions struct {
	Auth        TokenAuth
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		r.Get("/me", h.GetMe)
		r.Get("/kinds", h.ListKinds)

		// Per-kind routes
		r.Route("/kinds/{kind}", func(r chi.Router) {
			r.Get("/groups", h.ListGroups)
			r.Post("/groups", h.CreateGroup)
			r.Get("/resources", h.ListResources)
			r.Post("/resources", h.CreateResource)
			r.Get("/map", h.GetLiveMap)
			r.Get("/audit", h.AuditOccupancy)
			r.Get("/fees", h.ListFeeVersions)
			r.Post("/fees", h.AddFeeVersion)
			r.Get("/summary", h.GetBookingSummary)
			r.Post("/invoices/bulk", h.BulkGenerateInvoices)
			r.Post("/switches/mutual", h.RequestMutualSwitch)
		})

		// Resource routes
		r.Route("/resources/{id}", func(r chi.Router) {
			r.Delete("/", h.DeleteResource)
			r.Get("/pending", h.ListPendingForResource)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/approve", h.ApproveBooking)
			r.Post("/{id}/reject", h.RejectBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/move-out", h.ScheduleMoveOut)
			r.Get("/{id}/total-due", h.GetTotalDue)
			r.Get("/{id}/invoices", h.ListBookingInvoices)
			r.Post("/{id}/invoices", h.GenerateInvoice)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/pay", h.MarkInvoicePaid)
		})

		// Switch routes
		r.Route("/switches", func(r chi.Router) {
			r.Get("/available", h.ListAvailableSwitches)
			r.Post("/available", h.RequestAvailableSwitch)
			r.Get("/available/history", h.ListAvailableHistory)
			r.Post("/available/{id}/approve", h.ApproveAvailableSwitch)
			r.Post("/available/{id}/reject", h.RejectAvailableSwitch)
			r.Post("/available/{id}/cancel", h.CancelAvailableSwitch)

			r.Get("/mutual", h.ListMutualSwitches)
			r.Get("/mutual/history", h.ListMutualHistory)
			r.Post("/mutual/match", h.MatchMutualSwitch)
			r.Post("/mutual/{id}/reject", h.RejectMutualSwitch)
			r.Post("/mutual/{id}/cancel", h.CancelMutualSwitch)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweeps/bookings", h.RunBookingExpiry)
			r.Post("/sweeps/invoices", h.RunInvoiceExpiry)
			r.Post("/outbox/flush", h.FlushOutbox)
			r.Get("/revenue", h.GetRevenue)
			r.Get("/audit", h.AuditOccupancy)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
