// Package main provides the entrypoint for the Stampwise API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/api"
	"github.com/stampwise/stampwise/internal/api/handler"
	"github.com/stampwise/stampwise/internal/api/middleware"
	"github.com/stampwise/stampwise/internal/auth"
	"github.com/stampwise/stampwise/internal/catalog"
	"github.com/stampwise/stampwise/internal/database"
	"github.com/stampwise/stampwise/internal/design"
	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/featureflags"
	"github.com/stampwise/stampwise/internal/imaging"
	"github.com/stampwise/stampwise/internal/ledger"
	"github.com/stampwise/stampwise/internal/logingest"
	"github.com/stampwise/stampwise/internal/notify"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/push"
	"github.com/stampwise/stampwise/internal/registration"
	"github.com/stampwise/stampwise/internal/resilience"
	"github.com/stampwise/stampwise/internal/signing"
	"github.com/stampwise/stampwise/internal/telemetry"
	"github.com/stampwise/stampwise/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "stampwise-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Stampwise API")

	port := getEnv("APP_PORT", "8080")
	env := getEnv("APP_ENV", "development")
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	domainMetrics, err := telemetry.NewDomainMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize domain metrics")
	}
	upstreamMetrics, err := telemetry.NewUpstreamMetrics(tp.Meter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize upstream metrics")
	}

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Program-surface auth
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	authService := auth.NewService(auth.Config{
		SigningKey: jwtSigningKey,
		Issuer:     getEnv("JWT_ISSUER", "https://api.stampwise.io"),
		Audience:   getEnv("JWT_AUDIENCE", "stampwise-program"),
	})

	// Feature flags
	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewPostgresRepository(pool),
		Logger:     log,
		CacheTTL:   1 * time.Minute,
	})

	// Upstream collaborators behind resilient clients
	upstreams := resilience.NewUpstreams()

	imagingClient := resilience.NewClient(resilience.ClientConfig{Name: "imaging", Metrics: upstreamMetrics})
	upstreams.Track("imaging", imagingClient)
	renderer := imaging.NewHTTPRenderer(getEnv("IMAGING_URL", "http://localhost:8081"), imagingClient)

	signingClient := resilience.NewClient(resilience.ClientConfig{Name: "signing", Metrics: upstreamMetrics})
	upstreams.Track("signing", signingClient)
	signer := signing.NewHTTPSigner(getEnv("SIGNING_URL", "http://localhost:8082"), signingClient)

	// Domain services
	catalogService := catalog.NewService(catalog.ServiceConfig{
		Repository: catalog.NewPostgresRepository(pool),
	})
	ledgerService := ledger.NewService(ledger.ServiceConfig{
		Repository: ledger.NewPostgresRepository(pool),
		Aggregates: catalogService,
		Logger:     log,
	})
	passRepo := pass.NewPostgresRepository(pool)
	passService := pass.NewService(pass.ServiceConfig{
		Repository: passRepo,
		Entries:    ledgerService,
		Catalog:    catalogService,
		Designs:    design.NewPostgresRepository(pool),
		Renderer:   renderer,
		Signer:     signer,
		Flags:      ffService,
		Apple: pass.AppleConfig{
			PassTypeID:       getEnv("APPLE_PASS_TYPE_ID", "pass.io.stampwise.loyalty"),
			TeamID:           os.Getenv("APPLE_TEAM_ID"),
			OrganizationName: getEnv("ORGANIZATION_NAME", "Stampwise"),
			WebServiceURL:    getEnv("WEB_SERVICE_URL", "https://api.stampwise.io"),
		},
		Logger: log,
	})
	deviceService := device.NewService(device.ServiceConfig{
		Repository: device.NewPostgresRepository(pool),
		Logger:     log,
	})
	registrationService := registration.NewService(registration.ServiceConfig{
		Repository:     registration.NewPostgresRepository(pool),
		PassRepository: passRepo,
		Logger:         log,
	})
	logService := logingest.NewService(logingest.ServiceConfig{
		Repository: logingest.NewPostgresRepository(pool),
		Devices:    deviceService,
		Flags:      ffService,
		Logger:     log,
	})

	// Pass-changed publishing: Pub/Sub when configured, otherwise a direct
	// in-process dispatch so single-node deployments still push.
	var publisher handler.ChangePublisher
	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		pub, err := worker.NewPublisher(ctx, worker.PublisherConfig{
			ProjectID: projectID,
			TopicName: getEnv("PUBSUB_TOPIC", "stampwise-jobs"),
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub publisher")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("pubsub publisher close failed")
			}
		}()
		publisher = pub
		log.Info().Str("project", projectID).Msg("pubsub publisher initialized")
	} else if sender := apnsSenderFromEnv(log, upstreams, upstreamMetrics); sender != nil {
		notifyService := notify.NewService(notify.ServiceConfig{
			History:       notify.NewPostgresRepository(pool),
			Passes:        passService,
			Registrations: registrationService,
			Devices:       deviceService,
			Sender:        sender,
			Flags:         ffService,
			Logger:        log,
		})
		publisher = &directDispatcher{notify: notifyService, metrics: domainMetrics, logger: log}
		log.Info().Msg("direct dispatch initialized (no pubsub configured)")
	} else {
		log.Warn().Msg("neither pubsub nor apns configured - pass changes will not be pushed")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:             Version,
		BuildTime:           BuildTime,
		Logger:              log,
		ServiceName:         serviceName,
		Metrics:             metrics,
		AuthService:         authService,
		PassService:         passService,
		RegistrationService: registrationService,
		DeviceService:       deviceService,
		LedgerService:       ledgerService,
		LogService:          logService,
		Publisher:           publisher,
		PassTypeID:          getEnv("APPLE_PASS_TYPE_ID", "pass.io.stampwise.loyalty"),
		DB:                  pool,
		Upstreams:           upstreams,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// directDispatcher satisfies handler.ChangePublisher by running the push
// fan-out inline instead of enqueuing it.
type directDispatcher struct {
	notify  *notify.Service
	metrics *telemetry.DomainMetrics
	logger  zerolog.Logger
}

func (d *directDispatcher) PublishPassChanged(ctx context.Context, passID string) error {
	result, err := d.notify.Dispatch(ctx, passID)
	if err != nil {
		return err
	}
	if !result.PushDisabled {
		d.metrics.RecordPassRegenerated(ctx)
	}
	d.metrics.RecordPushes(ctx, result.Sent, len(result.Failures))
	return nil
}

// apnsSenderFromEnv builds the APNs sender when its credentials are set.
func apnsSenderFromEnv(log zerolog.Logger, upstreams *resilience.Upstreams, metrics *telemetry.UpstreamMetrics) push.Sender {
	keyPath := os.Getenv("APNS_KEY_PATH")
	if keyPath == "" {
		return nil
	}
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		log.Error().Err(err).Str("path", keyPath).Msg("failed to read apns auth key")
		return nil
	}
	key, err := push.LoadAuthKey(pemBytes)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse apns auth key")
		return nil
	}

	client := resilience.NewClient(resilience.ClientConfig{
		Name:       "apns",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Metrics:    metrics,
	})
	upstreams.Track("apns", client)

	return push.NewAPNsSender(push.APNsConfig{
		Host:       os.Getenv("APNS_HOST"),
		Topic:      getEnv("APPLE_PASS_TYPE_ID", "pass.io.stampwise.loyalty"),
		KeyID:      os.Getenv("APNS_KEY_ID"),
		TeamID:     os.Getenv("APNS_TEAM_ID"),
		PrivateKey: key,
	}, client, log)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
