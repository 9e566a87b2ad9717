package application

import (
	"time"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// OrderItemDTO is one order line
type OrderItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CostBreakdownDTO is an order cost breakdown
type CostBreakdownDTO struct {
	MaterialCost float64   `json:"materialCost"`
	LaborCost    float64   `json:"laborCost"`
	UnitCost     float64   `json:"unitCost"`
	TotalCost    float64   `json:"totalCost"`
	ComputedAt   time.Time `json:"computedAt"`
}

// OrderDTO represents an order in API responses
type OrderDTO struct {
	OrderID             string           `json:"orderId"`
	CustomerID          string           `json:"customerId"`
	ProductType         string           `json:"productType,omitempty"`
	Status              string           `json:"status"`
	PriorStatus         string           `json:"priorStatus,omitempty"`
	Priority            string           `json:"priority"`
	Items               []OrderItemDTO   `json:"items"`
	Quantity            int              `json:"quantity"`
	Currency            string           `json:"currency"`
	EstimatedCost       float64          `json:"estimatedCost"`
	FinalCost           float64          `json:"finalCost"`
	SellingPrice        float64          `json:"sellingPrice"`
	CostBreakdown       CostBreakdownDTO `json:"costBreakdown"`
	Progress            float64          `json:"progress"`
	AcceptedAt          *time.Time       `json:"acceptedAt,omitempty"`
	AcceptedBy          string           `json:"acceptedBy,omitempty"`
	ProductionStartedAt *time.Time       `json:"productionStartedAt,omitempty"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
	DeliveredAt         *time.Time       `json:"deliveredAt,omitempty"`
	CancelledAt         *time.Time       `json:"cancelledAt,omitempty"`
	CancelReason        string           `json:"cancelReason,omitempty"`
	HoldReason          string           `json:"holdReason,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// StageCostDTO is the cost recorded on a completed stage
type StageCostDTO struct {
	Labor    float64 `json:"labor"`
	Material float64 `json:"material"`
	Overhead float64 `json:"overhead"`
	Total    float64 `json:"total"`
}

// StageProgressDTO represents one stage of one order
type StageProgressDTO struct {
	ProgressID           string             `json:"progressId"`
	OrderID              string             `json:"orderId"`
	StageID              string             `json:"stageId"`
	StageName            string             `json:"stageName,omitempty"`
	Sequence             int                `json:"sequence"`
	Status               string             `json:"status"`
	WorkerID             string             `json:"workerId,omitempty"`
	PreviousWorkerID     string             `json:"previousWorkerId,omitempty"`
	HandedOverFrom       string             `json:"handedOverFrom,omitempty"`
	AssignedAt           *time.Time         `json:"assignedAt,omitempty"`
	StartedAt            *time.Time         `json:"startedAt,omitempty"`
	PausedAt             *time.Time         `json:"pausedAt,omitempty"`
	ResumedAt            *time.Time         `json:"resumedAt,omitempty"`
	CompletedAt          *time.Time         `json:"completedAt,omitempty"`
	EstimatedMinutes     float64            `json:"estimatedMinutes"`
	ActualMinutes        float64            `json:"actualMinutes"`
	EfficiencyPercentage float64            `json:"efficiencyPercentage"`
	DisplayEfficiency    float64            `json:"displayEfficiency"`
	QualityScore         *float64           `json:"qualityScore,omitempty"`
	QualityNotes         string             `json:"qualityNotes,omitempty"`
	PauseCount           int                `json:"pauseCount"`
	PausedMinutes        float64            `json:"pausedMinutes"`
	ReworkCount          int                `json:"reworkCount"`
	SkipReason           string             `json:"skipReason,omitempty"`
	MaterialUsage        map[string]float64 `json:"materialUsage,omitempty"`
	Cost                 StageCostDTO       `json:"cost"`
}

// TransitionDTO is a stage transition log entry
type TransitionDTO struct {
	TransitionID     string    `json:"transitionId"`
	OrderID          string    `json:"orderId"`
	FromStageID      string    `json:"fromStageId,omitempty"`
	ToStageID        string    `json:"toStageId,omitempty"`
	Type             string    `json:"type"`
	FromWorkerID     string    `json:"fromWorkerId,omitempty"`
	ToWorkerID       string    `json:"toWorkerId,omitempty"`
	PerformanceScore *float64  `json:"performanceScore,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ReservationDTO represents a material reservation
type ReservationDTO struct {
	ReservationID    string     `json:"reservationId"`
	OrderID          string     `json:"orderId"`
	MaterialID       string     `json:"materialId"`
	StageID          string     `json:"stageId"`
	Quantity         float64    `json:"quantity"`
	ConsumedQuantity float64    `json:"consumedQuantity"`
	Variance         float64    `json:"variance"`
	Status           string     `json:"status"`
	ReleaseReason    string     `json:"releaseReason,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	ReservedAt       time.Time  `json:"reservedAt"`
	ConsumedAt       *time.Time `json:"consumedAt,omitempty"`
	ReleasedAt       *time.Time `json:"releasedAt,omitempty"`
}

// DisplayStatusDTO is the derived, externally visible order status
type DisplayStatusDTO struct {
	OrderID         string  `json:"orderId"`
	Kind            string  `json:"kind"`
	Status          string  `json:"status"`
	StageID         string  `json:"stageId,omitempty"`
	StageName       string  `json:"stageName,omitempty"`
	Progress        float64 `json:"progress"`
	CompletedStages int     `json:"completedStages"`
	TotalStages     int     `json:"totalStages"`
}

// StageCostLineDTO is a stage's cost within an order cost report
type StageCostLineDTO struct {
	StageID string       `json:"stageId"`
	Status  string       `json:"status"`
	Cost    StageCostDTO `json:"cost"`
}

// OrderCostDTO reports the order cost with per-stage detail
type OrderCostDTO struct {
	OrderID       string             `json:"orderId"`
	Currency      string             `json:"currency"`
	EstimatedCost float64            `json:"estimatedCost"`
	FinalCost     float64            `json:"finalCost"`
	SellingPrice  float64            `json:"sellingPrice"`
	Breakdown     CostBreakdownDTO   `json:"breakdown"`
	Stages        []StageCostLineDTO `json:"stages"`
	StageTotal    float64            `json:"stageTotal"`
}

// ReconcileResultDTO reports a ledger reconciliation
type ReconcileResultDTO struct {
	MaterialID         string  `json:"materialId"`
	PreviousReserved   float64 `json:"previousReserved"`
	Reserved           float64 `json:"reserved"`
	Drift              float64 `json:"drift"`
	ActiveReservations int     `json:"activeReservations"`
	Corrected          bool    `json:"corrected"`
}

// WorkerPerformanceDTO is a worker's rollup
type WorkerPerformanceDTO struct {
	WorkerID            string    `json:"workerId"`
	PeriodStart         time.Time `json:"periodStart"`
	PeriodEnd           time.Time `json:"periodEnd"`
	TasksAssigned       int       `json:"tasksAssigned"`
	TasksCompleted      int       `json:"tasksCompleted"`
	CompletionRate      float64   `json:"completionRate"`
	AverageTaskMinutes  float64   `json:"averageTaskMinutes"`
	AverageQualityScore float64   `json:"averageQualityScore"`
	AverageEfficiency   float64   `json:"averageEfficiency"`
	ReworkCount         int       `json:"reworkCount"`
	PerformanceScore    float64   `json:"performanceScore"`
	BonusEligible       bool      `json:"bonusEligible"`
	ComputedAt          time.Time `json:"computedAt"`
}

// StageDefinitionDTO is a registry stage
type StageDefinitionDTO = domain.WorkflowStage
