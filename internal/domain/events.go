package domain

import (
	"time"

	"github.com/atelier-platform/production-engine/pkg/cloudevents"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// OrderCreatedEvent is published when an order enters the engine
type OrderCreatedEvent struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Priority   Priority    `json:"priority"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (e *OrderCreatedEvent) EventType() string     { return cloudevents.OrderCreated }
func (e *OrderCreatedEvent) OccurredAt() time.Time { return e.CreatedAt }

// OrderStatusChangedEvent is published on every lifecycle transition
type OrderStatusChangedEvent struct {
	OrderID   string      `json:"orderId"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Actor     string      `json:"actor,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	ChangedAt time.Time   `json:"changedAt"`
}

func (e *OrderStatusChangedEvent) EventType() string {
	switch {
	case e.From == OrderStatusOnHold:
		return cloudevents.OrderResumed
	case e.From == OrderStatusQualityCheck && e.To == OrderStatusInProduction:
		return cloudevents.OrderReworkStarted
	}
	switch e.To {
	case OrderStatusAccepted:
		return cloudevents.OrderAccepted
	case OrderStatusMaterialsReserved:
		return cloudevents.OrderMaterialsReserved
	case OrderStatusInProduction:
		return cloudevents.OrderProductionStarted
	case OrderStatusQualityCheck:
		return cloudevents.OrderQualityCheck
	case OrderStatusCompleted:
		return cloudevents.OrderCompleted
	case OrderStatusDelivered:
		return cloudevents.OrderDelivered
	case OrderStatusOnHold:
		return cloudevents.OrderHeld
	case OrderStatusCancelled:
		return cloudevents.OrderCancelled
	}
	return cloudevents.OrderCreated
}
func (e *OrderStatusChangedEvent) OccurredAt() time.Time { return e.ChangedAt }

// OrderCostRecomputedEvent is published when projected cost changes
type OrderCostRecomputedEvent struct {
	OrderID      string        `json:"orderId"`
	Previous     CostBreakdown `json:"previous"`
	Current      CostBreakdown `json:"current"`
	Trigger      string        `json:"trigger"`
	RecomputedAt time.Time     `json:"recomputedAt"`
}

func (e *OrderCostRecomputedEvent) EventType() string     { return cloudevents.OrderCostRecomputed }
func (e *OrderCostRecomputedEvent) OccurredAt() time.Time { return e.RecomputedAt }

// StageStatusChangedEvent is published on every stage progress transition
type StageStatusChangedEvent struct {
	OrderID   string      `json:"orderId"`
	StageID   string      `json:"stageId"`
	From      StageStatus `json:"from"`
	To        StageStatus `json:"to"`
	WorkerID  string      `json:"workerId,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	ChangedAt time.Time   `json:"changedAt"`
}

func (e *StageStatusChangedEvent) EventType() string {
	switch e.To {
	case StageStatusAssigned:
		return cloudevents.StageAssigned
	case StageStatusInProgress:
		if e.From == StageStatusPaused {
			return cloudevents.StageResumed
		}
		return cloudevents.StageStarted
	case StageStatusPaused:
		return cloudevents.StagePaused
	case StageStatusQualityCheck:
		return cloudevents.StageQualityCheck
	case StageStatusCompleted:
		return cloudevents.StageCompleted
	case StageStatusReworkRequired:
		return cloudevents.StageReworkNeeded
	case StageStatusSkipped:
		return cloudevents.StageSkipped
	case StageStatusCancelled:
		return cloudevents.StageCancelled
	}
	return cloudevents.StageTransitioned
}
func (e *StageStatusChangedEvent) OccurredAt() time.Time { return e.ChangedAt }

// StageTransitionRecordedEvent mirrors a StageTransition log entry
type StageTransitionRecordedEvent struct {
	Transition StageTransition `json:"transition"`
}

func (e *StageTransitionRecordedEvent) EventType() string     { return cloudevents.StageTransitioned }
func (e *StageTransitionRecordedEvent) OccurredAt() time.Time { return e.Transition.CreatedAt }

// MaterialReservedEvent is published for each reservation created
type MaterialReservedEvent struct {
	ReservationID string    `json:"reservationId"`
	OrderID       string    `json:"orderId"`
	MaterialID    string    `json:"materialId"`
	StageID       string    `json:"stageId"`
	Quantity      float64   `json:"quantity"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ReservedAt    time.Time `json:"reservedAt"`
}

func (e *MaterialReservedEvent) EventType() string     { return cloudevents.MaterialReserved }
func (e *MaterialReservedEvent) OccurredAt() time.Time { return e.ReservedAt }

// MaterialConsumedEvent is published when a reservation is used
type MaterialConsumedEvent struct {
	ReservationID string    `json:"reservationId"`
	OrderID       string    `json:"orderId"`
	MaterialID    string    `json:"materialId"`
	Reserved      float64   `json:"reserved"`
	Consumed      float64   `json:"consumed"`
	Variance      float64   `json:"variance"`
	ConsumedAt    time.Time `json:"consumedAt"`
}

func (e *MaterialConsumedEvent) EventType() string     { return cloudevents.MaterialConsumed }
func (e *MaterialConsumedEvent) OccurredAt() time.Time { return e.ConsumedAt }

// MaterialReleasedEvent is published when a reservation is released
type MaterialReleasedEvent struct {
	ReservationID string        `json:"reservationId"`
	OrderID       string        `json:"orderId"`
	MaterialID    string        `json:"materialId"`
	Quantity      float64       `json:"quantity"`
	Reason        ReleaseReason `json:"reason"`
	ReleasedAt    time.Time     `json:"releasedAt"`
}

func (e *MaterialReleasedEvent) EventType() string     { return cloudevents.MaterialReleased }
func (e *MaterialReleasedEvent) OccurredAt() time.Time { return e.ReleasedAt }

// MaterialLowStockEvent is published when available drops below the threshold
type MaterialLowStockEvent struct {
	MaterialID string    `json:"materialId"`
	OrderID    string    `json:"orderId,omitempty"`
	OnHand     float64   `json:"onHand"`
	Reserved   float64   `json:"reserved"`
	Available  float64   `json:"available"`
	Threshold  float64   `json:"threshold"`
	DetectedAt time.Time `json:"detectedAt"`
}

func (e *MaterialLowStockEvent) EventType() string     { return cloudevents.MaterialLowStock }
func (e *MaterialLowStockEvent) OccurredAt() time.Time { return e.DetectedAt }

// MaterialReconciledEvent is published when the reserved counter was corrected
type MaterialReconciledEvent struct {
	MaterialID       string    `json:"materialId"`
	PreviousReserved float64   `json:"previousReserved"`
	Reserved         float64   `json:"reserved"`
	Drift            float64   `json:"drift"`
	ReconciledAt     time.Time `json:"reconciledAt"`
}

func (e *MaterialReconciledEvent) EventType() string     { return cloudevents.MaterialReconciled }
func (e *MaterialReconciledEvent) OccurredAt() time.Time { return e.ReconciledAt }
