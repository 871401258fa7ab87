// Package main provides the entrypoint for the Stampwise background worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/catalog"
	"github.com/stampwise/stampwise/internal/database"
	"github.com/stampwise/stampwise/internal/design"
	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/featureflags"
	"github.com/stampwise/stampwise/internal/imaging"
	"github.com/stampwise/stampwise/internal/ledger"
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
	const serviceName = "stampwise-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Stampwise worker")

	port := getEnv("APP_PORT", "8080")
	env := getEnv("APP_ENV", "development")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

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

	// Feature flags
	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewPostgresRepository(pool),
		Logger:     log,
		CacheTTL:   1 * time.Minute,
	})

	// Upstream collaborators
	upstreams := resilience.NewUpstreams()

	imagingClient := resilience.NewClient(resilience.ClientConfig{Name: "imaging", Metrics: upstreamMetrics})
	upstreams.Track("imaging", imagingClient)
	renderer := imaging.NewHTTPRenderer(getEnv("IMAGING_URL", "http://localhost:8081"), imagingClient)

	signingClient := resilience.NewClient(resilience.ClientConfig{Name: "signing", Metrics: upstreamMetrics})
	upstreams.Track("signing", signingClient)
	signer := signing.NewHTTPSigner(getEnv("SIGNING_URL", "http://localhost:8082"), signingClient)

	apnsClient := resilience.NewClient(resilience.ClientConfig{
		Name:       "apns",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Metrics:    upstreamMetrics,
	})
	upstreams.Track("apns", apnsClient)
	sender := apnsSender(log, apnsClient)

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
	notifyService := notify.NewService(notify.ServiceConfig{
		History:       notify.NewPostgresRepository(pool),
		Passes:        passService,
		Registrations: registrationService,
		Devices:       deviceService,
		Sender:        sender,
		Flags:         ffService,
		Logger:        log,
	})

	sweepJob := worker.NewSweepJob(worker.SweepConfig{
		Devices:       deviceService,
		Registrations: registrationService,
		Passes:        passService,
		Logger:        log,
	})

	// Pub/Sub intake
	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}
	pubsubHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        projectID,
		SubscriptionName: getEnv("PUBSUB_SUBSCRIPTION", "stampwise-jobs-worker"),
		Dispatcher:       notifyService,
		SweepJob:         sweepJob,
		Metrics:          domainMetrics,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if err := pubsubHandler.Close(); err != nil {
			log.Error().Err(err).Msg("pubsub handler close failed")
		}
	}()

	// Health endpoint for the runtime platform
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("health server error")
		}
	}()

	// Start message processing
	receiveErr := make(chan error, 1)
	go func() {
		receiveErr <- pubsubHandler.Start(ctx)
	}()

	// Wait for interrupt signal or receive failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
	case err := <-receiveErr:
		if err != nil {
			log.Error().Err(err).Msg("pubsub receive failed")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// apnsSender builds the APNs sender, falling back to the fake sender in
// environments without credentials so dispatch jobs still exercise the
// full path.
func apnsSender(log zerolog.Logger, client *resilience.Client) push.Sender {
	keyPath := os.Getenv("APNS_KEY_PATH")
	if keyPath == "" {
		log.Warn().Msg("APNS_KEY_PATH not set - using fake push sender")
		return push.NewFakeSender()
	}
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", keyPath).Msg("failed to read apns auth key")
	}
	key, err := push.LoadAuthKey(pemBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse apns auth key")
	}
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
