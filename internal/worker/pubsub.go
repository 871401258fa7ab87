package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/notify"
	"github.com/stampwise/stampwise/internal/telemetry"
)

// Dispatcher refreshes a pass and fans the change out to its registered
// devices.
type Dispatcher interface {
	Dispatch(ctx context.Context, passID string) (*notify.DispatchResult, error)
}

// JobMessage is the wire format of a worker job.
type JobMessage struct {
	JobType string `json:"job_type"`

	// PassID is set for pass_changed jobs.
	PassID string `json:"pass_id,omitempty"`
}

// Job types.
const (
	JobPassChanged    = "pass_changed"
	JobRetentionSweep = "retention_sweep"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       Dispatcher
	sweepJob         *SweepJob
	metrics          *telemetry.DomainMetrics
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       Dispatcher
	SweepJob         *SweepJob
	Metrics          *telemetry.DomainMetrics
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		sweepJob:         cfg.SweepJob,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var job JobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		msg.Nack()
		return
	}

	var err error
	switch job.JobType {
	case JobPassChanged:
		err = h.handlePassChanged(ctx, job)
	case JobRetentionSweep:
		err = h.handleRetentionSweep(ctx)
	default:
		logger.Warn().Str("job_type", job.JobType).Msg("unknown job type")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", job.JobType).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	msg.Ack()
}

func (h *PubSubHandler) handlePassChanged(ctx context.Context, job JobMessage) error {
	if job.PassID == "" {
		// Malformed but not retryable: nacking would just loop it.
		h.logger.Warn().Msg("pass_changed job without pass_id")
		return nil
	}

	result, err := h.dispatcher.Dispatch(ctx, job.PassID)
	if err != nil {
		return fmt.Errorf("dispatching pass %s: %w", job.PassID, err)
	}

	if !result.PushDisabled {
		h.metrics.RecordPassRegenerated(ctx)
	}
	h.metrics.RecordPushes(ctx, result.Sent, len(result.Failures))

	h.logger.Info().
		Str("pass_id", job.PassID).
		Int("devices", result.Devices).
		Int("sent", result.Sent).
		Int("failed", len(result.Failures)).
		Int("invalid_tokens", result.InvalidTokens).
		Bool("cap_exceeded", result.CapExceeded).
		Bool("push_disabled", result.PushDisabled).
		Msg("pass change dispatched")
	return nil
}

func (h *PubSubHandler) handleRetentionSweep(ctx context.Context) error {
	result := h.sweepJob.Run(ctx)

	// Partial failure still acks: the next scheduled sweep retries the
	// same cutoffs anyway.
	if len(result.Errors) > 0 {
		for _, sweepErr := range result.Errors {
			h.logger.Error().
				Str("stage", sweepErr.Stage).
				Str("error", sweepErr.Error).
				Msg("retention sweep stage failed")
		}
	}
	return nil
}
