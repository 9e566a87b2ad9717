package handlers

// OrderItemRequest is one line of a new order
type OrderItemRequest struct {
	ProductID string `json:"productId" binding:"required,identifier"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest is the intake payload
type CreateOrderRequest struct {
	OrderID      string             `json:"orderId" binding:"required,identifier"`
	CustomerID   string             `json:"customerId" binding:"required,identifier"`
	ProductType  string             `json:"productType" binding:"omitempty,max=64"`
	Priority     string             `json:"priority" binding:"omitempty,priority"`
	Currency     string             `json:"currency" binding:"omitempty,currency"`
	SellingPrice float64            `json:"sellingPrice" binding:"gte=0"`
	Items        []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// ReasonRequest carries the mandatory reason of hold, cancel and skip
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required,reason"`
}

// OptionalReasonRequest carries a free-form note on stage pause and resume
type OptionalReasonRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// AssignStageRequest optionally names the worker to assign
type AssignStageRequest struct {
	WorkerID string `json:"workerId" binding:"omitempty,identifier"`
}

// CompleteStageRequest finishes a stage
type CompleteStageRequest struct {
	ActualMinutes *float64           `json:"actualMinutes" binding:"omitempty,gte=0"`
	MaterialUsage map[string]float64 `json:"materialUsage" binding:"omitempty,dive,keys,identifier,endkeys,gte=0"`
}

// QualityCheckRequest records a check outcome
type QualityCheckRequest struct {
	Passed *bool   `json:"passed" binding:"required"`
	Score  float64 `json:"score" binding:"gte=0,lte=100"`
	Notes  string  `json:"notes" binding:"omitempty,max=1000"`
}

// ReworkRequest optionally names the worker for the rework
type ReworkRequest struct {
	WorkerID string `json:"workerId" binding:"omitempty,identifier"`
}

// ConsumeReservationRequest consumes a reservation; no quantity means the reserved quantity
type ConsumeReservationRequest struct {
	ActualQuantity *float64 `json:"actualQuantity" binding:"omitempty,gte=0"`
}

// RollupRequest rolls up worker performance for one day
type RollupRequest struct {
	Day            string `json:"day" binding:"required,datetime=2006-01-02"`
	RefreshRatings bool   `json:"refreshRatings"`
}
