package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

const dayLayout = time.DateOnly

// MaterialHandler handles reservation, ledger and worker performance requests
type MaterialHandler struct {
	reservations ReservationService
	performance  PerformanceService
	logger       *logging.Logger
}

// NewMaterialHandler creates a new MaterialHandler
func NewMaterialHandler(reservations ReservationService, performance PerformanceService, logger *logging.Logger) *MaterialHandler {
	return &MaterialHandler{
		reservations: reservations,
		performance:  performance,
		logger:       logger,
	}
}

// RegisterRoutes mounts the reservation, material and performance routes
func (h *MaterialHandler) RegisterRoutes(v1 *gin.RouterGroup) {
	v1.POST("/reservations/:reservationId/consume", h.ConsumeReservation)
	v1.POST("/reservations/:reservationId/release", h.ReleaseReservation)
	v1.POST("/materials/:materialId/reconcile", h.ReconcileMaterial)
	v1.GET("/workers/:workerId/performance", h.GetWorkerPerformance)
	v1.POST("/performance/rollup", h.RollupPerformance)
}

// ConsumeReservation handles POST /api/v1/reservations/:reservationId/consume
func (h *MaterialHandler) ConsumeReservation(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req ConsumeReservationRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	reservationID := c.Param("reservationId")
	middleware.AddSpanAttributes(c, map[string]interface{}{"reservation.id": reservationID})

	reservation, err := h.reservations.Consume(c.Request.Context(), application.ConsumeReservationCommand{
		ReservationID:  reservationID,
		ActualQuantity: req.ActualQuantity,
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reservation})
}

// ReleaseReservation handles POST /api/v1/reservations/:reservationId/release
func (h *MaterialHandler) ReleaseReservation(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	reservationID := c.Param("reservationId")
	middleware.AddSpanAttributes(c, map[string]interface{}{"reservation.id": reservationID})

	reservation, err := h.reservations.Release(c.Request.Context(), application.ReleaseReservationCommand{
		ReservationID: reservationID,
		Actor:         middleware.GetActor(c),
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reservation})
}

// ReconcileMaterial handles POST /api/v1/materials/:materialId/reconcile
func (h *MaterialHandler) ReconcileMaterial(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	materialID := c.Param("materialId")
	middleware.AddSpanAttributes(c, map[string]interface{}{"material.id": materialID})

	result, err := h.reservations.ReconcileMaterial(c.Request.Context(), materialID)
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GetWorkerPerformance handles GET /api/v1/workers/:workerId/performance?from=&to=
// Both bounds are days; the window runs from the start of from to the end of to.
func (h *MaterialHandler) GetWorkerPerformance(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	from, err := time.Parse(dayLayout, c.Query("from"))
	if err != nil {
		responder.RespondWithAppError(errors.ErrValidationWithFields("invalid query", map[string]string{"from": "must be a date in 2006-01-02 format"}))
		return
	}
	to, err := time.Parse(dayLayout, c.Query("to"))
	if err != nil {
		responder.RespondWithAppError(errors.ErrValidationWithFields("invalid query", map[string]string{"to": "must be a date in 2006-01-02 format"}))
		return
	}
	if to.Before(from) {
		responder.RespondBadRequest("to must not be before from")
		return
	}

	workerID := c.Param("workerId")
	middleware.AddSpanAttributes(c, map[string]interface{}{"worker.id": workerID})

	perf, err := h.performance.WorkerPerformance(c.Request.Context(), application.PerformanceQuery{
		WorkerID: workerID,
		From:     from,
		To:       to.AddDate(0, 0, 1),
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": perf})
}

// RollupPerformance handles POST /api/v1/performance/rollup
func (h *MaterialHandler) RollupPerformance(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req RollupRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}
	day, _ := time.Parse(dayLayout, req.Day)

	rollups, err := h.performance.RollupDaily(c.Request.Context(), day)
	if err != nil {
		respondError(responder, err)
		return
	}

	refreshed := 0
	if req.RefreshRatings {
		refreshed, err = h.performance.RefreshEfficiencyRatings(c.Request.Context(), day.AddDate(0, 0, -30), day.AddDate(0, 0, 1))
		if err != nil {
			respondError(responder, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": rollups, "ratingsRefreshed": refreshed})
}
