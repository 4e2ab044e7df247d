/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from proxy headers (rate limit key)
  3. Logger:     slog request line with status, duration and request ID
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Hardening headers (unrolled/secure)
  6. CORS:       Cross-origin requests for the frontend
  7. Rate limit: Per-IP request budget (httprate)
  8. API keys:   admin / viewer roles, viewers read-only

ROUTE GROUPS:
  /healthz                Liveness, outside auth
  /api/contracts/*        Intake, lookup, settlement preview and close
  /api/violations/*       Rescind and resolve
  /api/expenses           Operating expenses
  /api/reports/*          Finance JSON and xlsx downloads

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Logger, secure headers and API key roles
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	AdminKeys      []string
	ViewerKeys     []string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit  int
	Production bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders(opts.Production, logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	if opts.RateLimit > 0 {
		r.Use(httprate.Limit(opts.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiKeyAuth(opts.AdminKeys, opts.ViewerKeys))

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/active", h.ListActiveContracts)
			r.Get("/overdue", h.ListOverdueContracts)
			r.Get("/{code}", h.GetContract)
			r.Post("/{code}/settlement/preview", h.PreviewSettlement)
			r.Post("/{code}/close", h.CloseContract)
			r.Get("/{code}/violations", h.ListViolations)
			r.Post("/{code}/violations", h.AddViolation)
		})

		r.Route("/violations", func(r chi.Router) {
			r.Delete("/{id}", h.RescindViolation)
			r.Post("/{id}/resolve", h.ResolveViolation)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/finance", h.FinanceReport)
			r.Get("/finance.xlsx", h.FinanceWorkbook)
			r.Get("/stats.xlsx", h.StatsWorkbook)
			r.Get("/expenses.xlsx", h.ExpensesWorkbook)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})

	return r
}
