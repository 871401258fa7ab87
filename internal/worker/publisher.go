package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Publisher emits worker jobs from the API side. Push fan-out happens in
// the worker so a slow APNs round trip never holds a stamp request open.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger
}

// PublisherConfig holds configuration for the job publisher.
type PublisherConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// NewPublisher creates a new job publisher.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// PublishPassChanged enqueues a push fan-out for the pass.
func (p *Publisher) PublishPassChanged(ctx context.Context, passID string) error {
	return p.publish(ctx, JobMessage{JobType: JobPassChanged, PassID: passID})
}

// PublishRetentionSweep enqueues a retention sweep.
func (p *Publisher) PublishRetentionSweep(ctx context.Context) error {
	return p.publish(ctx, JobMessage{JobType: JobRetentionSweep})
}

func (p *Publisher) publish(ctx context.Context, job JobMessage) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publishing %s job: %w", job.JobType, err)
	}

	p.logger.Debug().
		Str("job_type", job.JobType).
		Str("message_id", id).
		Msg("published worker job")
	return nil
}

// Close flushes pending publishes and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
