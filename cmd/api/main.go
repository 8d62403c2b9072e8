package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/patient-portal/internal/api/router"
	"github.com/wolfman30/patient-portal/internal/apiclient"
	"github.com/wolfman30/patient-portal/internal/appointments"
	appconfig "github.com/wolfman30/patient-portal/internal/config"
	"github.com/wolfman30/patient-portal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patient-portal/internal/http/middleware"
	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/observability/metrics"
	"github.com/wolfman30/patient-portal/internal/sessions"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting patient-portal API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.PatientJWTSecret == "" {
		logger.Warn("PATIENT_JWT_SECRET not set; patient endpoints will reject every request")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, bookingMetrics := setupBookingMetrics()

	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.PortalAPIBaseURL,
		Timeout: cfg.PortalAPITimeout,
		Metrics: bookingMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create portal API client", "error", err)
		os.Exit(1)
	}

	drafts, redisClient := buildDraftStore(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	validator := appointments.NewValidator(appointments.ValidatorConfig{
		Location:          cfg.ClinicLocation(),
		StrictClosingTime: cfg.StrictClosingTime,
	})
	registry, err := sessions.NewRegistry(sessions.RegistryConfig{
		Factory: pageFactory(pageDeps{
			service:        client,
			doctors:        client,
			validator:      validator,
			drafts:         drafts,
			metrics:        bookingMetrics,
			logger:         logger,
			noticeDuration: cfg.SuccessNoticeDuration,
		}),
		IdleTTL: cfg.SessionIdleTTL,
		Metrics: bookingMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create page registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()
	go registry.Run(ctx, cfg.SessionSweepInterval)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx, 5*time.Minute)

	checks := map[string]handlers.HealthCheck{}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := router.New(&router.Config{
		Logger:              logger,
		Health:              handlers.NewHealthHandler(checks),
		PatientAppointments: handlers.NewPatientAppointmentsHandler(registry, logger),
		PatientJWTSecret:    cfg.PatientJWTSecret,
		RateLimiter:         limiter,
		MetricsHandler:      metricsHandler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "patient-portal"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PortalAPITimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupBookingMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// buildDraftStore returns the configured draft store. Redis failures fall back
// to memory so booking keeps working.
func buildDraftStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (appointments.DraftStore, *redis.Client) {
	if cfg.DraftStore == appconfig.DraftStoreRedis {
		client := sessions.BuildRedisClient(ctx, sessions.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TLS:      cfg.RedisTLS,
		}, logger, true)
		if client != nil {
			logger.Info("draft store ready", "backend", appconfig.DraftStoreRedis, "addr", cfg.RedisAddr)
			return sessions.NewRedisDraftStore(client, cfg.DraftTTL), client
		}
		logger.Warn("falling back to in-memory draft store")
	}
	return sessions.NewMemoryDraftStore(cfg.DraftTTL), nil
}

type pageDeps struct {
	service        appointments.AppointmentService
	doctors        appointments.DoctorDirectory
	validator      *appointments.Validator
	drafts         appointments.DraftStore
	metrics        *metrics.BookingMetrics
	logger         *logging.Logger
	noticeDuration time.Duration
}

func pageFactory(deps pageDeps) sessions.Factory {
	return func(patient identity.Identity) (*appointments.Page, error) {
		return appointments.NewPage(appointments.PageConfig{
			Patient:        patient,
			Appointments:   deps.service,
			Doctors:        deps.doctors,
			Validator:      deps.validator,
			Drafts:         deps.drafts,
			Metrics:        deps.metrics,
			Logger:         deps.logger,
			NoticeDuration: deps.noticeDuration,
		})
	}
}
