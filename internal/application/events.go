package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/atelier-platform/production-engine/pkg/cloudevents"
	"github.com/atelier-platform/production-engine/pkg/contracts"
	"github.com/atelier-platform/production-engine/pkg/kafka"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/outbox"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// Aggregate type names stored on outbox rows
const (
	AggregateOrder    = "order"
	AggregateMaterial = "material"
)

// EventRecorder persists domain events. Implementations write through ctx, so
// inside a unit of work the events commit with the state change.
type EventRecorder interface {
	Record(ctx context.Context, orderID string, events ...domain.DomainEvent) error
}

type eventSource interface {
	GetDomainEvents() []domain.DomainEvent
	ClearDomainEvents()
}

// collect drains the pending events of every source
func collect(sources ...eventSource) []domain.DomainEvent {
	var out []domain.DomainEvent
	for _, s := range sources {
		if s == nil {
			continue
		}
		out = append(out, s.GetDomainEvents()...)
		s.ClearDomainEvents()
	}
	return out
}

// TopicFor routes an event type to its Kafka topic
func TopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "atelier.production.stage."):
		return kafka.Topics.Stages
	case strings.HasPrefix(eventType, "atelier.inventory."):
		return kafka.Topics.Reservations
	}
	return kafka.Topics.Orders
}

// OutboxRecorder turns domain events into CloudEvents and stores them in the outbox
type OutboxRecorder struct {
	repo         outbox.Repository
	eventFactory *cloudevents.EventFactory
	contracts    *contracts.EventValidator
	logger       *logging.Logger
}

// NewOutboxRecorder creates a new OutboxRecorder
func NewOutboxRecorder(repo outbox.Repository, eventFactory *cloudevents.EventFactory, logger *logging.Logger) *OutboxRecorder {
	return &OutboxRecorder{
		repo:         repo,
		eventFactory: eventFactory,
		logger:       logger,
	}
}

// WithContracts makes Record refuse events that break their payload contract
func (r *OutboxRecorder) WithContracts(v *contracts.EventValidator) *OutboxRecorder {
	r.contracts = v
	return r
}

// materialOf returns the material id of inventory events
func materialOf(event domain.DomainEvent) (string, bool) {
	switch e := event.(type) {
	case *domain.MaterialReservedEvent:
		return e.MaterialID, true
	case *domain.MaterialConsumedEvent:
		return e.MaterialID, true
	case *domain.MaterialReleasedEvent:
		return e.MaterialID, true
	case *domain.MaterialLowStockEvent:
		return e.MaterialID, true
	case *domain.MaterialReconciledEvent:
		return e.MaterialID, true
	}
	return "", false
}

// Record implements EventRecorder
func (r *OutboxRecorder) Record(ctx context.Context, orderID string, events ...domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]*outbox.OutboxEvent, 0, len(events))
	for _, event := range events {
		var (
			ce            *cloudevents.Event
			aggregateID   = orderID
			aggregateType = AggregateOrder
		)
		if materialID, ok := materialOf(event); ok {
			ce = r.eventFactory.CreateMaterialEvent(ctx, event.EventType(), materialID, orderID, event)
			aggregateID = materialID
			aggregateType = AggregateMaterial
		} else {
			ce = r.eventFactory.CreateOrderEvent(ctx, event.EventType(), orderID, event)
		}
		ce.Time = event.OccurredAt().UTC()
		if r.contracts != nil {
			if err := r.contracts.Validate(ce); err != nil {
				r.logger.WithError(err).Error("Refusing event", "orderId", orderID, "eventType", ce.Type)
				return err
			}
		}

		row, err := outbox.NewOutboxEventFromCloudEvent(aggregateID, aggregateType, TopicFor(ce.Type), ce)
		if err != nil {
			return fmt.Errorf("failed to build outbox event: %w", err)
		}
		rows = append(rows, row)
	}

	if err := r.repo.SaveAll(ctx, rows); err != nil {
		r.logger.WithError(err).Error("Failed to save outbox events", "orderId", orderID, "count", len(rows))
		return fmt.Errorf("failed to save outbox events: %w", err)
	}

	for _, row := range rows {
		r.logger.Event(ctx, row.EventType, map[string]any{
			"orderId":     orderID,
			"aggregateId": row.AggregateID,
			"topic":       row.Topic,
		})
	}
	return nil
}
