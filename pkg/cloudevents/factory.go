package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/atelier-platform/production-engine/pkg/logging"
)

// EventFactory creates CloudEvents for a single source
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent builds an event and copies correlation id, actor and trace
// context from ctx when present.
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *Event {
	event := &Event{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	if ctx == nil {
		return event
	}
	if v, ok := ctx.Value(logging.CorrelationIDKey).(string); ok {
		event.CorrelationID = v
	}
	event.Actor = logging.ActorFromContext(ctx)

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	event.TraceParent = carrier.Get("traceparent")

	return event
}

// CreateOrderEvent builds an event whose subject is the order
func (f *EventFactory) CreateOrderEvent(ctx context.Context, eventType, orderID string, data interface{}) *Event {
	event := f.CreateEvent(ctx, eventType, "order/"+orderID, data)
	event.OrderID = orderID
	return event
}

// CreateMaterialEvent builds an event whose subject is the material
func (f *EventFactory) CreateMaterialEvent(ctx context.Context, eventType, materialID, orderID string, data interface{}) *Event {
	event := f.CreateEvent(ctx, eventType, "material/"+materialID, data)
	event.OrderID = orderID
	return event
}
