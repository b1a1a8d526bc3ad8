/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logging:    One slog record per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for browser clients
  6. Identity:   Caller identity (header, or JWT subject when configured)
  7. Admins:     Marks configured admin identities; /api/audit and
                 /api/admin/* require one

ROUTE GROUPS:
  /api/customers/*       Customer accounts
  /api/providers/*       Provider accounts
  /api/travel-options/*  Listings and settlement
  /api/tickets/*         Ticket lifecycle
  /api/audit             Audit trail
  /api/admin/*           Scheduler trigger
  /healthz               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Identity middleware
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
	"github.com/warp/travel-ledger/booking"
)

// RouterConfig holds the router's optional settings.
type RouterConfig struct {
	// JWTSecret switches identity to HS256 bearer tokens when set.
	JWTSecret []byte
	// AllowedOrigins for CORS. Defaults to local development origins.
	AllowedOrigins []string
	// Admins may read the audit trail, trigger sweeps and auto-confirm any
	// option. SchedulerIdentity is always an admin.
	Admins []booking.Identity
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdentityHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Identity(cfg.JWTSecret))
		r.Use(Admins(cfg.Admins))

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.RegisterCustomer)
			r.Get("/me", h.GetCustomer)
			r.Put("/me", h.UpdateCustomer)
			r.Delete("/me", h.DeleteCustomer)
			r.Post("/me/deposits", h.DepositFunds)
			r.Get("/me/tickets", h.CustomerTickets)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Post("/", h.RegisterProvider)
			r.Get("/me", h.GetProvider)
			r.Put("/me", h.UpdateProvider)
			r.Delete("/me", h.DeleteProvider)
			r.Get("/me/travel-options", h.ProviderTravelOptions)
		})

		r.Route("/travel-options", func(r chi.Router) {
			r.Post("/", h.AddTravelOption)
			r.Get("/", h.ListTravelOptions)
			r.Get("/{id}", h.GetTravelOption)
			r.Delete("/{id}", h.DeleteTravelOption)
			r.Post("/{id}/cancel", h.CancelTravelListing)
			r.Post("/{id}/auto-confirm", h.AutoConfirmTickets)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", h.BookTicket)
			r.Get("/{id}", h.GetTicket)
			r.Post("/{id}/confirm", h.ConfirmTicket)
			r.Post("/{id}/cancel", h.CancelTicket)
			r.Post("/{id}/reschedule", h.RescheduleTicket)
			r.Post("/{id}/rating", h.RateProvider)
		})

		r.With(RequireAdmin).Get("/audit", h.AuditTrail)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/sweep", h.Sweep)
		})
	})

	return r
}

// requestLogger logs method, path, status, size and latency of every request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				slog.Int("status", status),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Duration("latency", time.Since(start)),
				slog.Int("bytes_out", ww.BytesWritten()),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("http", slog.Group("http", attrs...))
			} else {
				logger.Info("http", slog.Group("http", attrs...))
			}
		})
	}
}
