package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clinic"
	httpmiddleware "github.com/wolfman30/clinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduler/internal/messaging"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MessagingHandler   *messaging.Handler
	AvailabilityRoutes *availability.Handler
	BookingsHandler    *bookings.Handler
	ClinicHandler      *clinic.Handler
	ClinicStatsHandler *clinic.StatsHandler
	ClinicDashboard    *clinic.DashboardHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	WebhookLimiter     *httpmiddleware.RateLimiter
	HealthChecks       map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.MessagingHandler != nil {
		r.Route("/webhooks/whatsapp", func(wh chi.Router) {
			wh.Get("/", cfg.MessagingHandler.Verify)
			if cfg.WebhookLimiter != nil {
				wh.With(httpmiddleware.RateLimit(cfg.WebhookLimiter)).Post("/", cfg.MessagingHandler.Receive)
			} else {
				wh.Post("/", cfg.MessagingHandler.Receive)
			}
		})
	}

	if cfg.ClinicHandler != nil {
		r.Mount("/admin/clinics", cfg.ClinicHandler.Routes())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(15 * time.Second))
		api.Route("/clinics/{clinicID}", func(c chi.Router) {
			c.Use(requireClinicID)
			if cfg.AvailabilityRoutes != nil {
				c.Mount("/availability", cfg.AvailabilityRoutes.Routes())
			}
			if cfg.BookingsHandler != nil {
				cfg.BookingsHandler.ClinicRoutes(c)
			}
			if cfg.ClinicStatsHandler != nil {
				c.Get("/stats", cfg.ClinicStatsHandler.GetStats)
			}
			if cfg.ClinicDashboard != nil {
				c.Get("/dashboard", cfg.ClinicDashboard.GetDashboard)
			}
		})
		if cfg.BookingsHandler != nil {
			api.Route("/bookings", cfg.BookingsHandler.BookingRoutes)
		}
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]any{"status": "ok"}
		status := http.StatusOK
		failing := map[string]string{}
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				failing[name] = err.Error()
			}
		}
		if len(failing) > 0 {
			resp["status"] = "degraded"
			resp["checks"] = failing
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
