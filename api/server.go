/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs and error reports
  2. Logger:     zap request log (requestLogger)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Per-request deadline; the engine aborts its transaction
  5. Body limit: MaxBytesReader on every request
  6. CORS:       Cross-origin requests for the billing frontend

ROUTE GROUPS:
  /api/invoices/*   Invoice lifecycle and invoice payments
  /api/customers/*  Customers, pending balances, ledger statements
  /api/products/*   Catalog and stock
  /api/reports/*    Sales and profit
  /api/audit        Ledger verification
  /api/scenarios/*  Demo data
  /healthz          Liveness

SECURITY NOTE:
  No authentication middleware. The actor headers are trusted and must be
  set by an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxBodySize    int64
}

// DefaultRouterOptions allows the local frontend dev servers.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		RequestTimeout: 30 * time.Second,
		MaxBodySize:    1 << 20,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(limitBody(opts.MaxBodySize))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole, HeaderIdempotencyKey},
		ExposedHeaders:   []string{"Location", "Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.idempotent(h.CreateInvoice))
			r.Get("/{number}", h.GetInvoice)
			r.Put("/{number}", h.EditInvoice)
			r.Delete("/{number}", h.DeleteInvoice)
			r.Post("/{number}/payments", h.idempotent(h.RecordInvoicePayment))
			r.Put("/{number}/received", h.SetReceived)
		})

		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/pending", h.GetCustomerPending)
			r.Get("/{id}/ledger", h.CustomerStatement)
			r.Post("/{id}/payments", h.idempotent(h.RecordCustomerPayment))
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.UpsertProduct)
			r.Get("/{name}", h.GetProduct)
			r.Get("/{name}/movements", h.StockMovements)
			r.Post("/{name}/restock", h.idempotent(h.Restock))
			r.Post("/{name}/adjust", h.idempotent(h.AdjustStock))
		})

		r.Get("/reports/sales", h.SalesReport)
		r.Get("/audit", h.Audit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
