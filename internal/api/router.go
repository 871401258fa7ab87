// Package api provides the HTTP API for Stampwise.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/api/handler"
	"github.com/stampwise/stampwise/internal/api/middleware"
	"github.com/stampwise/stampwise/internal/auth"
	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/ledger"
	"github.com/stampwise/stampwise/internal/logingest"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/registration"
	"github.com/stampwise/stampwise/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	AuthService         *auth.Service
	PassService         *pass.Service
	RegistrationService *registration.Service
	DeviceService       *device.Service
	LedgerService       *ledger.Service
	LogService          *logingest.Service

	// Publisher enqueues push fan-out after program mutations. Optional;
	// nil disables dispatch entirely.
	Publisher handler.ChangePublisher

	// PassTypeID is the Apple pass type identifier this deployment serves.
	PassTypeID string

	// DB backs the readiness probe. Optional.
	DB handler.Pinger

	// Upstreams feeds circuit state into the readiness probe. Optional.
	Upstreams *resilience.Upstreams
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stampwise-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		DB:        cfg.DB,
		Upstreams: cfg.Upstreams,
	})
	walletHandler := handler.NewWalletHandler(handler.WalletHandlerConfig{
		Passes:        cfg.PassService,
		Registrations: cfg.RegistrationService,
		Devices:       cfg.DeviceService,
		Logs:          cfg.LogService,
		PassTypeID:    cfg.PassTypeID,
		Logger:        cfg.Logger,
	})
	programHandler := handler.NewProgramHandler(handler.ProgramHandlerConfig{
		Ledger:    cfg.LedgerService,
		Passes:    cfg.PassService,
		Publisher: cfg.Publisher,
		Logger:    cfg.Logger,
	})

	programAuth := middleware.ProgramAuth(cfg.AuthService)

	walletRateLimit := middleware.RateLimitByIP(middleware.WalletRateLimit)       // 300 req/min per IP
	logIngestRateLimit := middleware.RateLimitByIP(middleware.LogIngestRateLimit) // 60 req/min per IP

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Wallet web-service protocol (public). Auth is per-pass ApplePass
		// tokens checked inside the handlers, never JWT.
		r.Group(func(r chi.Router) {
			r.Use(walletRateLimit)
			r.Route("/devices/{deviceLibraryId}/registrations/{passTypeId}", func(r chi.Router) {
				r.Get("/", walletHandler.ListUpdatedPasses)
				r.Post("/{serialNumber}", walletHandler.RegisterDevice)
				r.Delete("/{serialNumber}", walletHandler.UnregisterDevice)
			})
			r.Get("/passes/{passTypeId}/{serialNumber}", walletHandler.GetPass)
		})

		// Wallet log submission: separate, stricter limit since misbehaving
		// devices can spam it.
		r.With(logIngestRateLimit).Post("/log", walletHandler.SubmitLogs)

		// Program surface (authenticated) - subject-based rate limiting
		r.Route("/program", func(r chi.Router) {
			r.Use(programAuth)
			r.Use(middleware.RateLimitBySubject(middleware.ProgramRateLimit)) // 120 req/min per subject
			r.Use(middleware.ContentTypeJSON)
			r.Route("/cards/{cardId}", func(r chi.Router) {
				r.Get("/", programHandler.GetCard)
				r.Post("/stamps", programHandler.AddStamps)
				r.Post("/claim", programHandler.ClaimReward)
				r.Post("/fulfillment", programHandler.MarkFulfilled)
			})
		})

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})
	})

	return r
}
