package kafka

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atelier-platform/production-engine/pkg/cloudevents"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
)

// InstrumentedProducer wraps a Publisher with metrics, logging and tracing
type InstrumentedProducer struct {
	next    Publisher
	metrics *metrics.Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewInstrumentedProducer creates a new instrumented producer. m and logger may be nil.
func NewInstrumentedProducer(next Publisher, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	return &InstrumentedProducer{
		next:    next,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes under a producer span and records the outcome
func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.Event) error {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", event.ID),
			attribute.String("cloudevents.event_type", event.Type),
			attribute.String("atelier.order_id", event.OrderID),
		),
	)
	defer span.End()

	err := p.next.PublishEvent(ctx, topic, event)
	duration := time.Since(start)
	success := err == nil

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, success, duration)
	}
	if p.logger != nil {
		p.logger.KafkaPublish(ctx, topic, event.Type, success, duration)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
