package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/patient-portal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patient-portal/internal/http/middleware"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	Health              *handlers.HealthHandler
	PatientAppointments *handlers.PatientAppointmentsHandler
	PatientJWTSecret    string
	RateLimiter         *httpmiddleware.RateLimiter
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health.HealthCheck)
		public.Get("/ready", health.Ready)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Patient endpoints (JWT protected)
	if cfg.PatientAppointments != nil {
		r.Route("/patient", func(patient chi.Router) {
			patient.Use(httpmiddleware.PatientJWT(cfg.PatientJWTSecret, cfg.Logger))
			if cfg.RateLimiter != nil {
				patient.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			patient.Mount("/appointments", cfg.PatientAppointments.Routes())
		})
	}

	return r
}
