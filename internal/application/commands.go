package application

import "time"

// OrderItemCommand is one line of a new order
type OrderItemCommand struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand creates an order on intake
type CreateOrderCommand struct {
	OrderID      string
	CustomerID   string
	ProductType  string
	Priority     string
	Currency     string
	SellingPrice float64
	Items        []OrderItemCommand
	Actor        string
}

// OrderActionCommand is an actor-attributed order action without payload
type OrderActionCommand struct {
	OrderID string
	Actor   string
}

// HoldOrderCommand puts an order on hold
type HoldOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

// CancelOrderCommand cancels an order
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

// ListOrdersQuery lists orders
type ListOrdersQuery struct {
	Status     string
	CustomerID string
	Offset     int64
	Limit      int64
}

// AssignStageCommand assigns a stage; WorkerID is an optional override
type AssignStageCommand struct {
	OrderID  string
	StageID  string
	WorkerID string
	Actor    string
}

// StageCommand addresses one stage of one order
type StageCommand struct {
	OrderID string
	StageID string
	Reason  string
	Actor   string
}

// CompleteStageCommand finishes work on a stage
type CompleteStageCommand struct {
	OrderID       string
	StageID       string
	ActualMinutes *float64
	MaterialUsage map[string]float64
	Actor         string
}

// QualityCheckCommand records a quality check outcome
type QualityCheckCommand struct {
	OrderID string
	StageID string
	Passed  bool
	Score   float64
	Notes   string
	Actor   string
}

// ReworkCommand restarts a stage after a failed check
type ReworkCommand struct {
	OrderID  string
	StageID  string
	WorkerID string
	Actor    string
}

// SkipStageCommand skips a non-critical stage
type SkipStageCommand struct {
	OrderID string
	StageID string
	Reason  string
	Actor   string
}

// ConsumeReservationCommand consumes a reservation; nil ActualQuantity means the reserved quantity
type ConsumeReservationCommand struct {
	ReservationID  string
	ActualQuantity *float64
}

// ReleaseReservationCommand releases a reservation by hand
type ReleaseReservationCommand struct {
	ReservationID string
	Actor         string
}

// PerformanceQuery reads a worker's performance over [From, To)
type PerformanceQuery struct {
	WorkerID string
	From     time.Time
	To       time.Time
}
