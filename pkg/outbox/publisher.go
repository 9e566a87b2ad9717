package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/atelier-platform/production-engine/pkg/kafka"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
)

// PublisherConfig holds configuration for the outbox relay
type PublisherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    100,
	}
}

// Publisher relays outbox events to Kafka on a fixed poll interval
type Publisher struct {
	repo      Repository
	producer  kafka.Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox relay. m may be nil.
func NewPublisher(repo Repository, producer kafka.Publisher, logger *logging.Logger, m *metrics.Metrics, config *PublisherConfig) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}
	return &Publisher{
		repo:      repo,
		producer:  producer,
		logger:    logger.WithComponent("outbox-publisher"),
		metrics:   m,
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Run polls until ctx is cancelled. It always returns nil on cancellation so
// it can sit in an errgroup next to the HTTP server.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Starting outbox publisher", "interval", p.interval.String(), "batchSize", p.batchSize)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox publisher stopped")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.WithError(err).Error("Outbox poll failed")
			}
		}
	}
}

// ProcessOnce relays one batch and returns how many events were published
func (p *Publisher) ProcessOnce(ctx context.Context) (int, error) {
	events, err := p.repo.FindUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find unpublished events: %w", err)
	}
	if p.metrics != nil {
		p.metrics.SetOutboxPending(len(events))
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.WithError(err).Warn("Failed to publish outbox event",
				"eventId", event.ID,
				"eventType", event.EventType,
				"aggregateId", event.AggregateID,
				"retryCount", event.RetryCount,
			)
			if err := p.repo.IncrementRetry(ctx, event.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to increment retry count", "eventId", event.ID)
			}
			continue
		}

		if err := p.repo.MarkPublished(ctx, event.ID); err != nil {
			// the event will be sent again; consumers dedupe on ce-id
			p.logger.WithError(err).Error("Failed to mark event as published", "eventId", event.ID)
			continue
		}
		published++
	}
	return published, nil
}

func (p *Publisher) publish(ctx context.Context, event *OutboxEvent) error {
	ce, err := event.ToCloudEvent()
	if err != nil {
		return fmt.Errorf("failed to decode cloud event: %w", err)
	}
	if err := p.producer.PublishEvent(ctx, event.Topic, ce); err != nil {
		return err
	}
	return nil
}
