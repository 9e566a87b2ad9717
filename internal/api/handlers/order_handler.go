package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/pkg/api"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/middleware"
)

// OrderHandler handles HTTP requests for the order lifecycle
type OrderHandler struct {
	orders       OrderService
	reservations ReservationService
	costs        CostService
	logger       *logging.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orders OrderService, reservations ReservationService, costs CostService, logger *logging.Logger) *OrderHandler {
	return &OrderHandler{
		orders:       orders,
		reservations: reservations,
		costs:        costs,
		logger:       logger,
	}
}

// RegisterRoutes mounts the order routes on the v1 group
func (h *OrderHandler) RegisterRoutes(v1 *gin.RouterGroup) {
	orders := v1.Group("/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:orderId", h.GetOrder)
	orders.GET("/:orderId/status", h.GetDisplayStatus)
	orders.GET("/:orderId/stages", h.ListStageProgress)
	orders.GET("/:orderId/transitions", h.ListTransitions)
	orders.GET("/:orderId/reservations", h.ListReservations)
	orders.GET("/:orderId/cost", h.GetCost)
	orders.POST("/:orderId/accept", h.AcceptOrder)
	orders.POST("/:orderId/reserve", h.ReserveMaterials)
	orders.POST("/:orderId/start", h.StartProduction)
	orders.POST("/:orderId/deliver", h.DeliverOrder)
	orders.POST("/:orderId/hold", h.HoldOrder)
	orders.POST("/:orderId/resume", h.ResumeOrder)
	orders.POST("/:orderId/cancel", h.CancelOrder)

	v1.GET("/stages", h.ListStageDefinitions)
}

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req CreateOrderRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"order.id":    req.OrderID,
		"customer.id": req.CustomerID,
		"order.lines": len(req.Items),
	})

	cmd := application.CreateOrderCommand{
		OrderID:      req.OrderID,
		CustomerID:   req.CustomerID,
		ProductType:  req.ProductType,
		Priority:     req.Priority,
		Currency:     req.Currency,
		SellingPrice: req.SellingPrice,
		Actor:        middleware.GetActor(c),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, application.OrderItemCommand{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), cmd)
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": order})
}

// GetOrder handles GET /api/v1/orders/:orderId
func (h *OrderHandler) GetOrder(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)
	orderID := c.Param("orderId")

	middleware.AddSpanAttributes(c, map[string]interface{}{"order.id": orderID})

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)
	page := api.ParsePagination(c)

	orders, total, err := h.orders.ListOrders(c.Request.Context(), application.ListOrdersQuery{
		Status:     c.Query("status"),
		CustomerID: c.Query("customerId"),
		Offset:     page.Offset(),
		Limit:      page.PageSize,
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, api.NewPageResponse(orders, page, total))
}

// GetDisplayStatus handles GET /api/v1/orders/:orderId/status
func (h *OrderHandler) GetDisplayStatus(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	status, err := h.orders.GetDisplayStatus(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// ListStageProgress handles GET /api/v1/orders/:orderId/stages
func (h *OrderHandler) ListStageProgress(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	rows, err := h.orders.ListStageProgress(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// ListTransitions handles GET /api/v1/orders/:orderId/transitions
func (h *OrderHandler) ListTransitions(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	transitions, err := h.orders.ListTransitions(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transitions})
}

// ListReservations handles GET /api/v1/orders/:orderId/reservations
func (h *OrderHandler) ListReservations(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	reservations, err := h.reservations.ListForOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reservations})
}

// GetCost handles GET /api/v1/orders/:orderId/cost
func (h *OrderHandler) GetCost(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	cost, err := h.costs.OrderCost(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cost})
}

type orderAction func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error)

func (h *OrderHandler) runAction(c *gin.Context, action string, fn orderAction) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)
	orderID := c.Param("orderId")

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"order.id":     orderID,
		"order.action": action,
	})

	order, err := fn(c, application.OrderActionCommand{OrderID: orderID, Actor: middleware.GetActor(c)})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// AcceptOrder handles POST /api/v1/orders/:orderId/accept
func (h *OrderHandler) AcceptOrder(c *gin.Context) {
	h.runAction(c, "accept", func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
		return h.orders.AcceptOrder(c.Request.Context(), cmd)
	})
}

// ReserveMaterials handles POST /api/v1/orders/:orderId/reserve
func (h *OrderHandler) ReserveMaterials(c *gin.Context) {
	h.runAction(c, "reserve", func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
		return h.orders.ReserveMaterials(c.Request.Context(), cmd)
	})
}

// StartProduction handles POST /api/v1/orders/:orderId/start
func (h *OrderHandler) StartProduction(c *gin.Context) {
	h.runAction(c, "start", func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
		return h.orders.StartProduction(c.Request.Context(), cmd)
	})
}

// DeliverOrder handles POST /api/v1/orders/:orderId/deliver
func (h *OrderHandler) DeliverOrder(c *gin.Context) {
	h.runAction(c, "deliver", func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
		return h.orders.DeliverOrder(c.Request.Context(), cmd)
	})
}

// ResumeOrder handles POST /api/v1/orders/:orderId/resume
func (h *OrderHandler) ResumeOrder(c *gin.Context) {
	h.runAction(c, "resume", func(c *gin.Context, cmd application.OrderActionCommand) (*application.OrderDTO, error) {
		return h.orders.ResumeOrder(c.Request.Context(), cmd)
	})
}

// HoldOrder handles POST /api/v1/orders/:orderId/hold
func (h *OrderHandler) HoldOrder(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req ReasonRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}

	order, err := h.orders.HoldOrder(c.Request.Context(), application.HoldOrderCommand{
		OrderID: c.Param("orderId"),
		Reason:  req.Reason,
		Actor:   middleware.GetActor(c),
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// CancelOrder handles POST /api/v1/orders/:orderId/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	responder := middleware.NewErrorResponder(c, h.logger.Logger)

	var req ReasonRequest
	if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
		responder.RespondWithAppError(appErr)
		return
	}

	orderID := c.Param("orderId")
	middleware.AddSpanAttributes(c, map[string]interface{}{
		"order.id":     orderID,
		"order.action": "cancel",
	})

	order, err := h.orders.CancelOrder(c.Request.Context(), application.CancelOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		Actor:   middleware.GetActor(c),
	})
	if err != nil {
		respondError(responder, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

// ListStageDefinitions handles GET /api/v1/stages
func (h *OrderHandler) ListStageDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.orders.Stages()})
}
