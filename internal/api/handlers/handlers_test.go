package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

// mockEngine stands in for every service the handlers call
type mockEngine struct {
	mock.Mock
}

func orderResult(args mock.Arguments) (*application.OrderDTO, error) {
	o, _ := args.Get(0).(*application.OrderDTO)
	return o, args.Error(1)
}

func stageResult(args mock.Arguments) (*application.StageProgressDTO, error) {
	r, _ := args.Get(0).(*application.StageProgressDTO)
	return r, args.Error(1)
}

func (m *mockEngine) CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) GetOrder(ctx context.Context, orderID string) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, orderID))
}

func (m *mockEngine) ListOrders(ctx context.Context, query application.ListOrdersQuery) ([]application.OrderDTO, int64, error) {
	args := m.Called(ctx, query)
	orders, _ := args.Get(0).([]application.OrderDTO)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *mockEngine) AcceptOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) ReserveMaterials(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) StartProduction(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) DeliverOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) HoldOrder(ctx context.Context, cmd application.HoldOrderCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) ResumeOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) CancelOrder(ctx context.Context, cmd application.CancelOrderCommand) (*application.OrderDTO, error) {
	return orderResult(m.Called(ctx, cmd))
}

func (m *mockEngine) GetDisplayStatus(ctx context.Context, orderID string) (*application.DisplayStatusDTO, error) {
	args := m.Called(ctx, orderID)
	s, _ := args.Get(0).(*application.DisplayStatusDTO)
	return s, args.Error(1)
}

func (m *mockEngine) ListStageProgress(ctx context.Context, orderID string) ([]application.StageProgressDTO, error) {
	args := m.Called(ctx, orderID)
	rows, _ := args.Get(0).([]application.StageProgressDTO)
	return rows, args.Error(1)
}

func (m *mockEngine) ListTransitions(ctx context.Context, orderID string) ([]application.TransitionDTO, error) {
	args := m.Called(ctx, orderID)
	rows, _ := args.Get(0).([]application.TransitionDTO)
	return rows, args.Error(1)
}

func (m *mockEngine) Stages() []domain.WorkflowStage {
	stages, _ := m.Called().Get(0).([]domain.WorkflowStage)
	return stages
}

func (m *mockEngine) AssignStage(ctx context.Context, cmd application.AssignStageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) StartStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) PauseStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) ResumeStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) CompleteStage(ctx context.Context, cmd application.CompleteStageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) RecordQualityCheck(ctx context.Context, cmd application.QualityCheckCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) StartRework(ctx context.Context, cmd application.ReworkCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) SkipStage(ctx context.Context, cmd application.SkipStageCommand) (*application.StageProgressDTO, error) {
	return stageResult(m.Called(ctx, cmd))
}

func (m *mockEngine) Consume(ctx context.Context, cmd application.ConsumeReservationCommand) (*application.ReservationDTO, error) {
	args := m.Called(ctx, cmd)
	r, _ := args.Get(0).(*application.ReservationDTO)
	return r, args.Error(1)
}

func (m *mockEngine) Release(ctx context.Context, cmd application.ReleaseReservationCommand) (*application.ReservationDTO, error) {
	args := m.Called(ctx, cmd)
	r, _ := args.Get(0).(*application.ReservationDTO)
	return r, args.Error(1)
}

func (m *mockEngine) ListForOrder(ctx context.Context, orderID string) ([]application.ReservationDTO, error) {
	args := m.Called(ctx, orderID)
	rows, _ := args.Get(0).([]application.ReservationDTO)
	return rows, args.Error(1)
}

func (m *mockEngine) ReconcileMaterial(ctx context.Context, materialID string) (*application.ReconcileResultDTO, error) {
	args := m.Called(ctx, materialID)
	r, _ := args.Get(0).(*application.ReconcileResultDTO)
	return r, args.Error(1)
}

func (m *mockEngine) OrderCost(ctx context.Context, orderID string) (*application.OrderCostDTO, error) {
	args := m.Called(ctx, orderID)
	r, _ := args.Get(0).(*application.OrderCostDTO)
	return r, args.Error(1)
}

func (m *mockEngine) WorkerPerformance(ctx context.Context, query application.PerformanceQuery) (*application.WorkerPerformanceDTO, error) {
	args := m.Called(ctx, query)
	r, _ := args.Get(0).(*application.WorkerPerformanceDTO)
	return r, args.Error(1)
}

func (m *mockEngine) RollupDaily(ctx context.Context, day time.Time) ([]application.WorkerPerformanceDTO, error) {
	args := m.Called(ctx, day)
	rows, _ := args.Get(0).([]application.WorkerPerformanceDTO)
	return rows, args.Error(1)
}

func (m *mockEngine) RefreshEfficiencyRatings(ctx context.Context, from, to time.Time) (int, error) {
	args := m.Called(ctx, from, to)
	return args.Int(0), args.Error(1)
}

func setupRouter(engine *mockEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.InitValidator()

	logger := logging.NewNop()
	router := gin.New()
	router.Use(middleware.RequestContext())
	v1 := router.Group("/api/v1")
	NewOrderHandler(engine, engine, engine, logger).RegisterRoutes(v1)
	NewStageHandler(engine, logger).RegisterRoutes(v1)
	NewMaterialHandler(engine, engine, logger).RegisterRoutes(v1)
	return router
}

func makeRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor-ID", "clerk-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestCreateOrder(t *testing.T) {
	engine := &mockEngine{}
	engine.On("CreateOrder", mock.Anything, application.CreateOrderCommand{
		OrderID:      "ORD-1",
		CustomerID:   "CUST-1",
		Priority:     "high",
		Currency:     "EUR",
		SellingPrice: 900,
		Items:        []application.OrderItemCommand{{ProductID: "JACKET", Quantity: 2}},
		Actor:        "clerk-1",
	}).Return(&application.OrderDTO{OrderID: "ORD-1", Status: "pending_acceptance"}, nil)
	router := setupRouter(engine)

	rec := makeRequest(router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"orderId":      "ORD-1",
		"customerId":   "CUST-1",
		"priority":     "high",
		"currency":     "EUR",
		"sellingPrice": 900,
		"items":        []map[string]interface{}{{"productId": "JACKET", "quantity": 2}},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	engine.AssertExpectations(t)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"no items", map[string]interface{}{"orderId": "ORD-1", "customerId": "C", "items": []interface{}{}}},
		{"bad priority", map[string]interface{}{"orderId": "ORD-1", "customerId": "C", "priority": "asap",
			"items": []map[string]interface{}{{"productId": "JACKET", "quantity": 1}}}},
		{"zero quantity", map[string]interface{}{"orderId": "ORD-1", "customerId": "C",
			"items": []map[string]interface{}{{"productId": "JACKET", "quantity": 0}}}},
		{"bad currency", map[string]interface{}{"orderId": "ORD-1", "customerId": "C", "currency": "euro",
			"items": []map[string]interface{}{{"productId": "JACKET", "quantity": 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{}
			rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			engine.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	engine := &mockEngine{}
	engine.On("GetOrder", mock.Anything, "ORD-404").
		Return(nil, fmt.Errorf("%w: ORD-404", domain.ErrOrderNotFound))

	rec := makeRequest(setupRouter(engine), http.MethodGet, "/api/v1/orders/ORD-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_Paginates(t *testing.T) {
	engine := &mockEngine{}
	engine.On("ListOrders", mock.Anything, application.ListOrdersQuery{Status: "in_production", Offset: 10, Limit: 10}).
		Return([]application.OrderDTO{{OrderID: "ORD-11"}}, int64(11), nil)

	rec := makeRequest(setupRouter(engine), http.MethodGet, "/api/v1/orders?status=in_production&page=2&pageSize=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data       []application.OrderDTO `json:"data"`
		TotalItems int64                  `json:"totalItems"`
		TotalPages int64                  `json:"totalPages"`
		HasNext    bool                   `json:"hasNext"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 1)
	assert.Equal(t, int64(11), page.TotalItems)
	assert.Equal(t, int64(2), page.TotalPages)
	assert.False(t, page.HasNext)
}

func TestOrderActions_CarryActor(t *testing.T) {
	for _, action := range []struct{ path, method string }{
		{"accept", "AcceptOrder"},
		{"reserve", "ReserveMaterials"},
		{"start", "StartProduction"},
		{"deliver", "DeliverOrder"},
		{"resume", "ResumeOrder"},
	} {
		t.Run(action.path, func(t *testing.T) {
			engine := &mockEngine{}
			engine.On(action.method, mock.Anything, application.OrderActionCommand{OrderID: "ORD-1", Actor: "clerk-1"}).
				Return(&application.OrderDTO{OrderID: "ORD-1"}, nil)

			rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/"+action.path, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			engine.AssertExpectations(t)
		})
	}
}

func TestReserveMaterials_InsufficientStock(t *testing.T) {
	engine := &mockEngine{}
	engine.On("ReserveMaterials", mock.Anything, mock.Anything).
		Return(nil, &domain.InsufficientStockError{MaterialID: "WOOL", Required: 12, Available: 4, Shortfall: 8})

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/reserve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", errorCode(t, rec))
}

func TestCancelOrder_RequiresReason(t *testing.T) {
	engine := &mockEngine{}
	router := setupRouter(engine)

	rec := makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/cancel", map[string]string{"reason": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	engine.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything)

	engine.On("CancelOrder", mock.Anything, application.CancelOrderCommand{OrderID: "ORD-1", Reason: "customer withdrew", Actor: "clerk-1"}).
		Return(&application.OrderDTO{OrderID: "ORD-1", Status: "cancelled"}, nil)
	rec = makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/cancel", map[string]string{"reason": "customer withdrew"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHoldOrder_InvalidTransition(t *testing.T) {
	engine := &mockEngine{}
	engine.On("HoldOrder", mock.Anything, mock.Anything).
		Return(nil, &domain.TransitionError{Entity: "order", From: "delivered", To: "on_hold"})

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/hold", map[string]string{"reason": "fabric recall"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))
}

func TestOrderReadModels(t *testing.T) {
	engine := &mockEngine{}
	engine.On("GetDisplayStatus", mock.Anything, "ORD-1").Return(&application.DisplayStatusDTO{OrderID: "ORD-1", Kind: "stage"}, nil)
	engine.On("ListStageProgress", mock.Anything, "ORD-1").Return([]application.StageProgressDTO{{StageID: "cutting"}}, nil)
	engine.On("ListTransitions", mock.Anything, "ORD-1").Return([]application.TransitionDTO{}, nil)
	engine.On("ListForOrder", mock.Anything, "ORD-1").Return([]application.ReservationDTO{{ReservationID: "RES-1"}}, nil)
	engine.On("OrderCost", mock.Anything, "ORD-1").Return(&application.OrderCostDTO{}, nil)
	engine.On("Stages").Return([]domain.WorkflowStage{{StageID: "cutting"}})
	router := setupRouter(engine)

	for _, path := range []string{
		"/api/v1/orders/ORD-1/status",
		"/api/v1/orders/ORD-1/stages",
		"/api/v1/orders/ORD-1/transitions",
		"/api/v1/orders/ORD-1/reservations",
		"/api/v1/orders/ORD-1/cost",
		"/api/v1/stages",
	} {
		rec := makeRequest(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	engine.AssertExpectations(t)
}

func TestAssignStage_OptionalOverride(t *testing.T) {
	engine := &mockEngine{}
	engine.On("AssignStage", mock.Anything, application.AssignStageCommand{OrderID: "ORD-1", StageID: "cutting", Actor: "clerk-1"}).
		Return(&application.StageProgressDTO{StageID: "cutting", WorkerID: "W-CUT"}, nil)
	engine.On("AssignStage", mock.Anything, application.AssignStageCommand{OrderID: "ORD-1", StageID: "sewing", WorkerID: "W-SEW", Actor: "clerk-1"}).
		Return(&application.StageProgressDTO{StageID: "sewing", WorkerID: "W-SEW"}, nil)
	router := setupRouter(engine)

	rec := makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/cutting/assign", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/sewing/assign", map[string]string{"workerId": "W-SEW"})
	assert.Equal(t, http.StatusOK, rec.Code)
	engine.AssertExpectations(t)
}

func TestAssignStage_NoEligibleWorker(t *testing.T) {
	engine := &mockEngine{}
	engine.On("AssignStage", mock.Anything, mock.Anything).Return(nil, domain.ErrNoEligibleWorker)

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/stages/cutting/assign", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_ELIGIBLE_WORKER", errorCode(t, rec))
}

func TestCompleteStage_PassesUsage(t *testing.T) {
	minutes := 75.0
	engine := &mockEngine{}
	engine.On("CompleteStage", mock.Anything, mock.MatchedBy(func(cmd application.CompleteStageCommand) bool {
		return cmd.StageID == "cutting" && cmd.ActualMinutes != nil && *cmd.ActualMinutes == minutes &&
			cmd.MaterialUsage["WOOL"] == 3.5
	})).Return(&application.StageProgressDTO{StageID: "cutting", Status: "completed"}, nil)

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/stages/cutting/complete", map[string]interface{}{
		"actualMinutes": minutes,
		"materialUsage": map[string]float64{"WOOL": 3.5},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	engine.AssertExpectations(t)
}

func TestCompleteStage_RejectsNegativeUsage(t *testing.T) {
	engine := &mockEngine{}
	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/stages/cutting/complete", map[string]interface{}{
		"materialUsage": map[string]float64{"WOOL": -1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordQualityCheck(t *testing.T) {
	engine := &mockEngine{}
	engine.On("RecordQualityCheck", mock.Anything, application.QualityCheckCommand{
		OrderID: "ORD-1", StageID: "quality_control", Passed: false, Score: 40, Notes: "loose seam", Actor: "clerk-1",
	}).Return(&application.StageProgressDTO{StageID: "quality_control", Status: "failed"}, nil)
	router := setupRouter(engine)

	rec := makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/quality_control/quality-check", map[string]interface{}{"score": 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "passed is required")

	rec = makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/quality_control/quality-check", map[string]interface{}{
		"passed": false, "score": 40, "notes": "loose seam",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	engine.AssertExpectations(t)
}

func TestSkipStage_CriticalRejected(t *testing.T) {
	engine := &mockEngine{}
	engine.On("SkipStage", mock.Anything, mock.Anything).
		Return(nil, &domain.TransitionError{Entity: "stage", From: "pending", To: "skipped", Reason: "stage is critical"})

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/orders/ORD-1/stages/cutting/skip", map[string]string{"reason": "not needed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseAndResumeStage(t *testing.T) {
	engine := &mockEngine{}
	engine.On("PauseStage", mock.Anything, application.StageCommand{OrderID: "ORD-1", StageID: "sewing", Reason: "lunch", Actor: "clerk-1"}).
		Return(&application.StageProgressDTO{Status: "paused"}, nil)
	engine.On("ResumeStage", mock.Anything, application.StageCommand{OrderID: "ORD-1", StageID: "sewing", Actor: "clerk-1"}).
		Return(&application.StageProgressDTO{Status: "in_progress"}, nil)
	router := setupRouter(engine)

	assert.Equal(t, http.StatusOK, makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/sewing/pause", map[string]string{"reason": "lunch"}).Code)
	assert.Equal(t, http.StatusOK, makeRequest(router, http.MethodPost, "/api/v1/orders/ORD-1/stages/sewing/resume", nil).Code)
	engine.AssertExpectations(t)
}

func TestConsumeReservation(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Consume", mock.Anything, application.ConsumeReservationCommand{ReservationID: "RES-1"}).
		Return(&application.ReservationDTO{ReservationID: "RES-1", Status: "used"}, nil)
	engine.On("Consume", mock.Anything, application.ConsumeReservationCommand{ReservationID: "RES-OLD"}).
		Return(nil, domain.ErrReservationExpired)
	router := setupRouter(engine)

	assert.Equal(t, http.StatusOK, makeRequest(router, http.MethodPost, "/api/v1/reservations/RES-1/consume", nil).Code)

	rec := makeRequest(router, http.MethodPost, "/api/v1/reservations/RES-OLD/consume", nil)
	assert.Equal(t, "RESERVATION_EXPIRED", errorCode(t, rec))
}

func TestReleaseReservation_Conflict(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Release", mock.Anything, application.ReleaseReservationCommand{ReservationID: "RES-1", Actor: "clerk-1"}).
		Return(nil, domain.ErrConcurrentModification)

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/reservations/RES-1/release", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONCURRENT_MODIFICATION", errorCode(t, rec))
}

func TestReconcileMaterial(t *testing.T) {
	engine := &mockEngine{}
	engine.On("ReconcileMaterial", mock.Anything, "WOOL").
		Return(&application.ReconcileResultDTO{MaterialID: "WOOL", PreviousReserved: 12, Reserved: 10, Drift: -2, Corrected: true}, nil)

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/materials/WOOL/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data application.ReconcileResultDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Corrected)
}

func TestGetWorkerPerformance(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	engine := &mockEngine{}
	engine.On("WorkerPerformance", mock.Anything, application.PerformanceQuery{
		WorkerID: "W-SEW", From: from, To: from.AddDate(0, 0, 7),
	}).Return(&application.WorkerPerformanceDTO{WorkerID: "W-SEW"}, nil)
	router := setupRouter(engine)

	rec := makeRequest(router, http.MethodGet, "/api/v1/workers/W-SEW/performance?from=2026-03-01&to=2026-03-07", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	engine.AssertExpectations(t)

	rec = makeRequest(router, http.MethodGet, "/api/v1/workers/W-SEW/performance?from=yesterday&to=2026-03-07", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = makeRequest(router, http.MethodGet, "/api/v1/workers/W-SEW/performance?from=2026-03-07&to=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollupPerformance(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	engine := &mockEngine{}
	engine.On("RollupDaily", mock.Anything, day).Return([]application.WorkerPerformanceDTO{{WorkerID: "W-CUT"}}, nil)
	engine.On("RefreshEfficiencyRatings", mock.Anything, day.AddDate(0, 0, -30), day.AddDate(0, 0, 1)).Return(1, nil)

	rec := makeRequest(setupRouter(engine), http.MethodPost, "/api/v1/performance/rollup", map[string]interface{}{
		"day": "2026-03-02", "refreshRatings": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data             []application.WorkerPerformanceDTO `json:"data"`
		RatingsRefreshed int                                `json:"ratingsRefreshed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, 1, body.RatingsRefreshed)
	engine.AssertExpectations(t)
}
