package cloudevents

import (
	"time"
)

// Event types emitted by the production engine
const (
	// Orders
	OrderCreated           = "atelier.production.order.created"
	OrderAccepted          = "atelier.production.order.accepted"
	OrderMaterialsReserved = "atelier.production.order.materials-reserved"
	OrderProductionStarted = "atelier.production.order.production-started"
	OrderQualityCheck      = "atelier.production.order.quality-check"
	OrderCompleted         = "atelier.production.order.completed"
	OrderDelivered         = "atelier.production.order.delivered"
	OrderHeld              = "atelier.production.order.held"
	OrderResumed           = "atelier.production.order.resumed"
	OrderCancelled         = "atelier.production.order.cancelled"
	OrderCostRecomputed    = "atelier.production.order.cost-recomputed"
	OrderReworkStarted     = "atelier.production.order.rework-started"

	// Stages
	StageAssigned     = "atelier.production.stage.assigned"
	StageStarted      = "atelier.production.stage.started"
	StagePaused       = "atelier.production.stage.paused"
	StageResumed      = "atelier.production.stage.resumed"
	StageQualityCheck = "atelier.production.stage.quality-check"
	StageCompleted    = "atelier.production.stage.completed"
	StageReworkNeeded = "atelier.production.stage.rework-required"
	StageSkipped      = "atelier.production.stage.skipped"
	StageCancelled    = "atelier.production.stage.cancelled"
	StageTransitioned = "atelier.production.stage.transitioned"

	// Inventory
	MaterialReserved   = "atelier.inventory.material.reserved"
	MaterialConsumed   = "atelier.inventory.material.consumed"
	MaterialReleased   = "atelier.inventory.material.released"
	MaterialLowStock   = "atelier.inventory.material.low-stock"
	MaterialReconciled = "atelier.inventory.material.reconciled"
)

// SourceProductionEngine is the CloudEvents source of every engine event
const SourceProductionEngine = "/atelier/production-engine"

// Event is a CloudEvents v1.0 envelope with the atelier correlation extensions
type Event struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	CorrelationID string `json:"ateliercorrelationid,omitempty"`
	OrderID       string `json:"atelierorderid,omitempty"`
	Actor         string `json:"atelieractor,omitempty"`

	// W3C trace context
	TraceParent string `json:"traceparent,omitempty"`
}
