package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

// StageHandler handles HTTP requests for stage progress
type StageHandler struct {
	stages StageService
	logger *logging.Logger
}

// NewStageHandler creates a new StageHandler
func NewStageHandler(stages StageService, logger *logging.Logger) *StageHandler {
	return &StageHandler{stages: stages, logger: logger}
}

// RegisterRoutes mounts the stage routes on the v1 group
func (h *StageHandler) RegisterRoutes(v1 *gin.RouterGroup) {
	stages := v1.Group("/orders/:orderId/stages/:stageId")
	stages.POST("/assign", h.AssignStage)
	stages.POST("/start", h.StartStage)
	stages.POST("/pause", h.PauseStage)
	stages.POST("/resume", h.ResumeStage)
	stages.POST("/complete", h.CompleteStage)
	stages.POST("/quality-check", h.RecordQualityCheck)
	stages.POST("/rework", h.StartRework)
	stages.POST("/skip", h.SkipStage)
}

func stageSpan(c *gin.Context, action string) (orderID, stageID string) {
	orderID, stageID = c.Param("orderId"), c.Param("stageId")
	middleware.AddSpanAttributes(c, map[string]interface{}{
		"order.id":     orderID,
		"stage.id":     stageID,
		"stage.action": action,
	})
	return orderID, stageID
}

func (h *StageHandler) respond(c *gin.Context, responder *middleware.ErrorResponder, row *application.StageProgressDTO, err error) {
	if err != nil {
		respondError(responder, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": row})
}

// AssignStage handles POST /api/v1/orders/:orderId/stages/:stageId/assign
func (h *StageHandler) AssignStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req AssignStageRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	orderID, stageID := stageSpan(c, "assign")
	row, err := h.stages.AssignStage(c.Request.Context(), application.AssignStageCommand{
		OrderID:  orderID,
		StageID:  stageID,
		WorkerID: req.WorkerID,
		Actor:    middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// StartStage handles POST /api/v1/orders/:orderId/stages/:stageId/start
func (h *StageHandler) StartStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	orderID, stageID := stageSpan(c, "start")
	row, err := h.stages.StartStage(c.Request.Context(), application.StageCommand{
		OrderID: orderID,
		StageID: stageID,
		Actor:   middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// PauseStage handles POST /api/v1/orders/:orderId/stages/:stageId/pause
func (h *StageHandler) PauseStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req OptionalReasonRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	orderID, stageID := stageSpan(c, "pause")
	row, err := h.stages.PauseStage(c.Request.Context(), application.StageCommand{
		OrderID: orderID,
		StageID: stageID,
		Reason:  req.Reason,
		Actor:   middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// ResumeStage handles POST /api/v1/orders/:orderId/stages/:stageId/resume
func (h *StageHandler) ResumeStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req OptionalReasonRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	orderID, stageID := stageSpan(c, "resume")
	row, err := h.stages.ResumeStage(c.Request.Context(), application.StageCommand{
		OrderID: orderID,
		StageID: stageID,
		Reason:  req.Reason,
		Actor:   middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// CompleteStage handles POST /api/v1/orders/:orderId/stages/:stageId/complete
func (h *StageHandler) CompleteStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req CompleteStageRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	orderID, stageID := stageSpan(c, "complete")
	row, err := h.stages.CompleteStage(c.Request.Context(), application.CompleteStageCommand{
		OrderID:       orderID,
		StageID:       stageID,
		ActualMinutes: req.ActualMinutes,
		MaterialUsage: req.MaterialUsage,
		Actor:         middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// RecordQualityCheck handles POST /api/v1/orders/:orderId/stages/:stageId/quality-check
func (h *StageHandler) RecordQualityCheck(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req QualityCheckRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}

	orderID, stageID := stageSpan(c, "quality-check")
	middleware.AddSpanAttributes(c, map[string]interface{}{"qc.passed": *req.Passed})

	row, err := h.stages.RecordQualityCheck(c.Request.Context(), application.QualityCheckCommand{
		OrderID: orderID,
		StageID: stageID,
		Passed:  *req.Passed,
		Score:   req.Score,
		Notes:   req.Notes,
		Actor:   middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// StartRework handles POST /api/v1/orders/:orderId/stages/:stageId/rework
func (h *StageHandler) StartRework(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req ReworkRequest
	if !bindOptional(c, responder, &req) {
		return
	}

	orderID, stageID := stageSpan(c, "rework")
	row, err := h.stages.StartRework(c.Request.Context(), application.ReworkCommand{
		OrderID:  orderID,
		StageID:  stageID,
		WorkerID: req.WorkerID,
		Actor:    middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}

// SkipStage handles POST /api/v1/orders/:orderId/stages/:stageId/skip
func (h *StageHandler) SkipStage(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req ReasonRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}

	orderID, stageID := stageSpan(c, "skip")
	row, err := h.stages.SkipStage(c.Request.Context(), application.SkipStageCommand{
		OrderID: orderID,
		StageID: stageID,
		Reason:  req.Reason,
		Actor:   middleware.GetActor(c),
	})
	h.respond(c, responder, row, err)
}
