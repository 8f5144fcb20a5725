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
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/expenses/*        Expense submission and approval
  /api/reimbursements/*  Reimbursement requests and approval
  /api/invoices/*        Invoice composition and lifecycle
  /api/projects/*        Projects and cost dashboards
  /api/reports/*         Tenant-level reports

SECURITY NOTE:
  Actor identity comes from X-Tenant-ID / X-User-ID / X-Role headers
  resolved by an upstream session layer. There is no authentication in
  this service itself.

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

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-User-ID", "X-Role"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Get("/{id}", h.GetExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Post("/{id}/approve", h.ApproveExpense)
			r.Post("/{id}/reject", h.RejectExpense)
		})

		// Reimbursement routes
		r.Route("/reimbursements", func(r chi.Router) {
			r.Post("/", h.CreateReimbursement)
			r.Put("/{id}", h.UpdateReimbursement)
			r.Post("/{id}/approve", h.ApproveReimbursement)
			r.Post("/{id}/reject", h.RejectReimbursement)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/eligible-expenses", h.EligibleExpenses)
			r.Get("/{id}", h.GetInvoice)
			r.Put("/{id}", h.UpdateInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
			r.Post("/{id}/approve", h.ApproveInvoice)
			r.Post("/{id}/reject", h.RejectInvoice)
			r.Post("/{id}/pay", h.PayInvoice)
		})

		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Put("/{id}", h.UpdateProject)
			r.Get("/{id}/costs", h.GetProjectCosts)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/overruns", h.GetOverruns)
		})
	})

	return r
}
