// Package handlers exposes the production engine over HTTP.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

// OrderService is the order lifecycle surface of the workflow service
type OrderService interface {
	CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) (*application.OrderDTO, error)
	GetOrder(ctx context.Context, orderID string) (*application.OrderDTO, error)
	ListOrders(ctx context.Context, query application.ListOrdersQuery) ([]application.OrderDTO, int64, error)
	AcceptOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)
	ReserveMaterials(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)
	StartProduction(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)
	DeliverOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)
	HoldOrder(ctx context.Context, cmd application.HoldOrderCommand) (*application.OrderDTO, error)
	ResumeOrder(ctx context.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)
	CancelOrder(ctx context.Context, cmd application.CancelOrderCommand) (*application.OrderDTO, error)
	GetDisplayStatus(ctx context.Context, orderID string) (*application.DisplayStatusDTO, error)
	ListStageProgress(ctx context.Context, orderID string) ([]application.StageProgressDTO, error)
	ListTransitions(ctx context.Context, orderID string) ([]application.TransitionDTO, error)
	Stages() []domain.WorkflowStage
}

// StageService is the stage progress surface of the workflow service
type StageService interface {
	AssignStage(ctx context.Context, cmd application.AssignStageCommand) (*application.StageProgressDTO, error)
	StartStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error)
	PauseStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error)
	ResumeStage(ctx context.Context, cmd application.StageCommand) (*application.StageProgressDTO, error)
	CompleteStage(ctx context.Context, cmd application.CompleteStageCommand) (*application.StageProgressDTO, error)
	RecordQualityCheck(ctx context.Context, cmd application.QualityCheckCommand) (*application.StageProgressDTO, error)
	StartRework(ctx context.Context, cmd application.ReworkCommand) (*application.StageProgressDTO, error)
	SkipStage(ctx context.Context, cmd application.SkipStageCommand) (*application.StageProgressDTO, error)
}

// ReservationService is the reservation surface
type ReservationService interface {
	Consume(ctx context.Context, cmd application.ConsumeReservationCommand) (*application.ReservationDTO, error)
	Release(ctx context.Context, cmd application.ReleaseReservationCommand) (*application.ReservationDTO, error)
	ListForOrder(ctx context.Context, orderID string) ([]application.ReservationDTO, error)
	ReconcileMaterial(ctx context.Context, materialID string) (*application.ReconcileResultDTO, error)
}

// CostService reads order costs
type CostService interface {
	OrderCost(ctx context.Context, orderID string) (*application.OrderCostDTO, error)
}

// PerformanceService reads and rolls up worker performance
type PerformanceService interface {
	WorkerPerformance(ctx context.Context, query application.PerformanceQuery) (*application.WorkerPerformanceDTO, error)
	RollupDaily(ctx context.Context, day time.Time) ([]application.WorkerPerformanceDTO, error)
	RefreshEfficiencyRatings(ctx context.Context, from, to time.Time) (int, error)
}

// respondError renders a service error, translating domain failures to API codes
func respondError(responder *middleware.ErrorResponder, err error) {
	responder.RespondWithAppError(application.ToAppError(err))
}

// bindOptional binds a JSON body when one was sent
func bindOptional(c *gin.Context, responder *middleware.ErrorResponder, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if appErr := middleware.BindAndValidate(c, obj); appErr != nil {
		responder.RespondWithAppError(appErr)
		return false
	}
	return true
}
