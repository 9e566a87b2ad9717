package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus represents the lifecycle status of a production order
type OrderStatus string

const (
	OrderStatusPendingAcceptance OrderStatus = "pending_acceptance"
	OrderStatusAccepted          OrderStatus = "accepted"
	OrderStatusMaterialsReserved OrderStatus = "materials_reserved"
	OrderStatusInProduction      OrderStatus = "in_production"
	OrderStatusQualityCheck      OrderStatus = "quality_check"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusOnHold            OrderStatus = "on_hold"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

func (s OrderStatus) String() string { return string(s) }

// IsTerminal reports whether no further transitions are permitted
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ProductionStartProgress marks an order as touched by production
const ProductionStartProgress = 5.0

// Priority of an order
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority parses a priority, defaulting empty input to normal
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// OrderItem is one product line of an order
type OrderItem struct {
	ProductID string `bson:"productId" json:"productId"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

// CostBreakdown is the blended cost of an order
type CostBreakdown struct {
	MaterialCost float64   `bson:"materialCost" json:"materialCost"`
	LaborCost    float64   `bson:"laborCost" json:"laborCost"`
	UnitCost     float64   `bson:"unitCost" json:"unitCost"`
	TotalCost    float64   `bson:"totalCost" json:"totalCost"`
	ComputedAt   time.Time `bson:"computedAt" json:"computedAt"`
}

// Order is the aggregate root of a production order
type Order struct {
	OrderID       string        `bson:"_id"`
	CustomerID    string        `bson:"customerId"`
	ProductType   string        `bson:"productType,omitempty"`
	Status        OrderStatus   `bson:"status"`
	PriorStatus   OrderStatus   `bson:"priorStatus,omitempty"`
	Priority      Priority      `bson:"priority"`
	Items         []OrderItem   `bson:"items"`
	Quantity      int           `bson:"quantity"`
	Currency      string        `bson:"currency"`
	EstimatedCost float64       `bson:"estimatedCost"`
	FinalCost     float64       `bson:"finalCost"`
	SellingPrice  float64       `bson:"sellingPrice"`
	CostBreakdown CostBreakdown `bson:"costBreakdown"`
	Progress      float64       `bson:"progress"`

	// Stages is the pipeline the stage rows were laid out against
	Stages []WorkflowStage `bson:"stages,omitempty"`

	AcceptedAt          *time.Time `bson:"acceptedAt,omitempty"`
	AcceptedBy          string     `bson:"acceptedBy,omitempty"`
	ProductionStartedAt *time.Time `bson:"productionStartedAt,omitempty"`
	CompletedAt         *time.Time `bson:"completedAt,omitempty"`
	DeliveredAt         *time.Time `bson:"deliveredAt,omitempty"`
	CancelledAt         *time.Time `bson:"cancelledAt,omitempty"`
	CancelReason        string     `bson:"cancelReason,omitempty"`
	HoldReason          string     `bson:"holdReason,omitempty"`

	Version      int64         `bson:"version"`
	CreatedAt    time.Time     `bson:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt"`
	DomainEvents []DomainEvent `bson:"-"`
}

// NewOrder creates an order in pending_acceptance
func NewOrder(orderID, customerID, productType string, priority Priority, currency string, items []OrderItem, sellingPrice float64, at time.Time) (*Order, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	if len(items) == 0 {
		return nil, errors.New("order must have at least one item")
	}

	quantity := 0
	for _, item := range items {
		if item.ProductID == "" {
			return nil, errors.New("order item product id is required")
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item %s: %w", item.ProductID, ErrInvalidQuantity)
		}
		quantity += item.Quantity
	}
	if priority == "" {
		priority = PriorityNormal
	}

	o := &Order{
		OrderID:      orderID,
		CustomerID:   customerID,
		ProductType:  productType,
		Status:       OrderStatusPendingAcceptance,
		Priority:     priority,
		Items:        items,
		Quantity:     quantity,
		Currency:     strings.ToUpper(currency),
		SellingPrice: sellingPrice,
		CreatedAt:    at,
		UpdatedAt:    at,
		DomainEvents: make([]DomainEvent, 0),
	}
	o.AddDomainEvent(&OrderCreatedEvent{
		OrderID:    orderID,
		CustomerID: customerID,
		Priority:   priority,
		Items:      items,
		CreatedAt:  at,
	})
	return o, nil
}

func (o *Order) transition(to OrderStatus, actor, reason string, at time.Time) {
	from := o.Status
	o.Status = to
	o.UpdatedAt = at
	o.AddDomainEvent(&OrderStatusChangedEvent{
		OrderID:   o.OrderID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		ChangedAt: at,
	})
}

func (o *Order) require(to OrderStatus, allowed ...OrderStatus) error {
	for _, s := range allowed {
		if o.Status == s {
			return nil
		}
	}
	return invalidTransition("order "+o.OrderID, o.Status, to, "")
}

// Accept records the approving actor
func (o *Order) Accept(actor string, at time.Time) error {
	if err := o.require(OrderStatusAccepted, OrderStatusPendingAcceptance); err != nil {
		return err
	}
	o.AcceptedAt = &at
	o.AcceptedBy = actor
	o.transition(OrderStatusAccepted, actor, "", at)
	return nil
}

// MarkMaterialsReserved moves an accepted order forward after a successful reservation
func (o *Order) MarkMaterialsReserved(at time.Time) error {
	if err := o.require(OrderStatusMaterialsReserved, OrderStatusAccepted); err != nil {
		return err
	}
	o.transition(OrderStatusMaterialsReserved, "", "", at)
	return nil
}

// FreezeStages records the pipeline the order's stage rows follow. Later
// registry reloads do not change an order once it is frozen.
func (o *Order) FreezeStages(p *Pipeline) {
	o.Stages = p.Stages()
}

// StagePipeline is the frozen pipeline of the order, or current when the
// order has not been laid out yet.
func (o *Order) StagePipeline(current *Pipeline) (*Pipeline, error) {
	if len(o.Stages) == 0 {
		return current, nil
	}
	p, err := NewPipeline(o.Stages)
	if err != nil {
		return nil, fmt.Errorf("%w: order %s stages: %v", ErrInvariantViolation, o.OrderID, err)
	}
	return p, nil
}

// StartProduction sets the production start and a small nonzero progress
func (o *Order) StartProduction(at time.Time) error {
	if err := o.require(OrderStatusInProduction, OrderStatusMaterialsReserved); err != nil {
		return err
	}
	o.ProductionStartedAt = &at
	o.Progress = ProductionStartProgress
	o.transition(OrderStatusInProduction, "", "", at)
	return nil
}

// EnterQualityCheck is driven by the final stage entering its quality check
func (o *Order) EnterQualityCheck(at time.Time) error {
	if err := o.require(OrderStatusQualityCheck, OrderStatusInProduction); err != nil {
		return err
	}
	o.transition(OrderStatusQualityCheck, "", "", at)
	return nil
}

// ReturnToProduction undoes EnterQualityCheck after a failed final check
func (o *Order) ReturnToProduction(at time.Time) error {
	if err := o.require(OrderStatusInProduction, OrderStatusQualityCheck); err != nil {
		return err
	}
	o.transition(OrderStatusInProduction, "", "quality check failed", at)
	return nil
}

// Complete finishes the order once every stage is terminal
func (o *Order) Complete(finalCost float64, at time.Time) error {
	if err := o.require(OrderStatusCompleted, OrderStatusInProduction, OrderStatusQualityCheck); err != nil {
		return err
	}
	o.Progress = 100
	o.CompletedAt = &at
	o.FinalCost = Round2(finalCost)
	o.transition(OrderStatusCompleted, "", "", at)
	return nil
}

// Deliver hands a completed order to the customer
func (o *Order) Deliver(actor string, at time.Time) error {
	if err := o.require(OrderStatusDelivered, OrderStatusCompleted); err != nil {
		return err
	}
	o.DeliveredAt = &at
	o.transition(OrderStatusDelivered, actor, "", at)
	return nil
}

// Hold pauses the order until Resume
func (o *Order) Hold(reason, actor string, at time.Time) error {
	if o.Status.IsTerminal() || o.Status == OrderStatusOnHold {
		return invalidTransition("order "+o.OrderID, o.Status, OrderStatusOnHold, "")
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	o.PriorStatus = o.Status
	o.HoldReason = reason
	o.transition(OrderStatusOnHold, actor, reason, at)
	return nil
}

// Resume returns a held order to the state it was held from
func (o *Order) Resume(actor string, at time.Time) error {
	if o.Status != OrderStatusOnHold || o.PriorStatus == "" {
		return invalidTransition("order "+o.OrderID, o.Status, o.PriorStatus, "order is not on hold")
	}
	prior := o.PriorStatus
	o.PriorStatus = ""
	o.HoldReason = ""
	o.transition(prior, actor, "", at)
	return nil
}

// Cancel marks the order terminal. Reservations and stages are the caller's job.
func (o *Order) Cancel(reason, actor string, at time.Time) error {
	if o.Status.IsTerminal() {
		return invalidTransition("order "+o.OrderID, o.Status, OrderStatusCancelled, "")
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	o.CancelledAt = &at
	o.CancelReason = reason
	o.PriorStatus = ""
	o.transition(OrderStatusCancelled, actor, reason, at)
	return nil
}

// EnsureStageWorkAllowed rejects stage operations on orders that are not in production
func (o *Order) EnsureStageWorkAllowed() error {
	switch o.Status {
	case OrderStatusMaterialsReserved, OrderStatusInProduction, OrderStatusQualityCheck:
		return nil
	}
	return &TransitionError{
		Entity: "order " + o.OrderID,
		From:   o.Status.String(),
		To:     "stage work",
		Reason: "order is not in production",
	}
}

// ApplyCost stores a new breakdown, as the estimate when estimate is true
func (o *Order) ApplyCost(breakdown CostBreakdown, estimate bool, trigger string, at time.Time) {
	previous := o.CostBreakdown
	o.CostBreakdown = breakdown
	if estimate {
		o.EstimatedCost = breakdown.TotalCost
	}
	o.UpdatedAt = at
	o.AddDomainEvent(&OrderCostRecomputedEvent{
		OrderID:      o.OrderID,
		Previous:     previous,
		Current:      breakdown,
		Trigger:      trigger,
		RecomputedAt: at,
	})
}

// SetProgress records stage-driven progress without leaving the 5..100 band once started
func (o *Order) SetProgress(progress float64) {
	if o.ProductionStartedAt != nil && progress < ProductionStartProgress {
		progress = ProductionStartProgress
	}
	o.Progress = Round2(progress)
}

// AddDomainEvent adds a domain event
func (o *Order) AddDomainEvent(event DomainEvent) {
	o.DomainEvents = append(o.DomainEvents, event)
}

// GetDomainEvents returns all domain events
func (o *Order) GetDomainEvents() []DomainEvent {
	return o.DomainEvents
}

// ClearDomainEvents clears all domain events
func (o *Order) ClearDomainEvents() {
	o.DomainEvents = make([]DomainEvent, 0)
}
