package kafka

import (
	"context"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/atelier-platform/production-engine/pkg/cloudevents"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	"github.com/atelier-platform/production-engine/pkg/resilience"
)

// CircuitBreakerProducer stops hammering a broker that keeps failing. The
// outbox keeps the events, so rejected publishes are simply retried on a later poll.
type CircuitBreakerProducer struct {
	next Publisher
	cb   *resilience.CircuitBreaker
}

// NewCircuitBreakerProducer wraps next with a breaker named "kafka-producer"
func NewCircuitBreakerProducer(next Publisher, logger *slog.Logger, m *metrics.Metrics) *CircuitBreakerProducer {
	if logger == nil {
		logger = slog.Default()
	}
	config := resilience.DefaultCircuitBreakerConfig("kafka-producer")
	config.MaxRequests = 5

	listener := func(name string, _, to gobreaker.State) {
		if m == nil {
			return
		}
		m.SetCircuitBreakerState(name, int(to))
		if to == gobreaker.StateOpen {
			m.RecordCircuitBreakerTrip(name)
		}
	}

	return &CircuitBreakerProducer{
		next: next,
		cb:   resilience.NewCircuitBreaker(config, logger, listener),
	}
}

// PublishEvent publishes through the breaker
func (p *CircuitBreakerProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.Event) error {
	_, err := p.cb.Execute(ctx, func() (interface{}, error) {
		return nil, p.next.PublishEvent(ctx, topic, event)
	})
	return err
}
