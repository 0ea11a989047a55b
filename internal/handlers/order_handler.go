package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

type OrderHandler struct {
	orderService *services.OrderService
	idempotency  *services.IdempotencyStore
}

func NewOrderHandler(orderService *services.OrderService, idempotency *services.IdempotencyStore) *OrderHandler {
	return &OrderHandler{orderService: orderService, idempotency: idempotency}
}

// @Summary Create an order
// @Description Open a draft order and allocate the restaurant-scoped order number; retries carrying the same Idempotency-Key replay the first response
// @Tags orders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param Idempotency-Key header string false "Retry key"
// @Param request body services.CreateOrderRequest true "Order creation request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, order)
}

// @Summary List orders
// @Tags orders
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	restaurantID := restaurantParam(c)
	page, limit, offset := parsePage(c)

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), restaurantID, c.Query("status"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKWithMeta(c, http.StatusOK, orders, response.PageMeta(page, limit, total))
}

// @Summary Get an order
// @Tags orders
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), restaurantID, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, order)
}

// @Summary Patch order lines
// @Description Add, remove or modify lines on a draft; optional expected_total guards against stale clients
// @Tags orders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Param request body services.UpdateLinesRequest true "Line patch"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/lines [patch]
func (h *OrderHandler) UpdateLines(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req services.UpdateLinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	order, err := h.orderService.UpdateLines(c.Request.Context(), restaurantID, orderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, order)
}

// @Summary Confirm an order
// @Description Move a draft to confirmed; re-checks availability, opening state and the client's expected total
// @Tags orders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Param Idempotency-Key header string false "Retry key"
// @Param request body services.ConfirmOrderRequest false "Confirmation request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/confirm [post]
func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	req := services.ConfirmOrderRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperrors.InvalidPayload(err.Error()))
			return
		}
	}

	order, err := h.orderService.Confirm(c.Request.Context(), restaurantID, orderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, order)
}

// @Summary Advance order status
// @Description Move the order along confirmed, preparing, ready, completed
// @Tags orders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Param request body services.AdvanceStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/status [post]
func (h *OrderHandler) AdvanceStatus(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req services.AdvanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	order, err := h.orderService.AdvanceStatus(c.Request.Context(), restaurantID, orderID, req.Target)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, order)
}

// @Summary Cancel an order
// @Description Allowed from draft or confirmed; pending payment intents are failed with the order
// @Tags orders
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Param request body services.CancelOrderRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/cancel [post]
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	req := services.CancelOrderRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperrors.InvalidPayload(err.Error()))
			return
		}
	}

	order, err := h.orderService.Cancel(c.Request.Context(), restaurantID, orderID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, order)
}

// @Summary Order status history
// @Tags orders
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param oid path string true "Order ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/orders/{oid}/logs [get]
func (h *OrderHandler) GetStatusLogs(c *gin.Context) {
	restaurantID := restaurantParam(c)
	orderID, err := orderParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.orderService.GetStatusLogs(c.Request.Context(), restaurantID, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, logs)
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	scoped := router.Group("/restaurants/:id/orders", authMiddleware.AuthRequired(), authMiddleware.RestaurantAccess("id"))
	{
		scoped.GET("", h.ListOrders)
		scoped.GET("/:oid", h.GetOrder)
		scoped.GET("/:oid/logs", h.GetStatusLogs)
		scoped.POST("/:oid/status", h.AdvanceStatus)

		// Cooks work tickets from the KDS; opening and settling orders is
		// front-of-house.
		front := scoped.Group("", authMiddleware.RoleRequired(
			models.RoleRestaurantOwner, models.RoleManager, models.RoleCashier, models.RoleServer,
		), middleware.Idempotency(h.idempotency))
		{
			front.POST("", h.CreateOrder)
			front.PATCH("/:oid/lines", h.UpdateLines)
			front.POST("/:oid/confirm", h.ConfirmOrder)
			front.POST("/:oid/cancel", h.CancelOrder)
		}
	}
}

func orderParam(c *gin.Context) (uuid.UUID, error) {
	orderID, err := uuid.Parse(c.Param("oid"))
	if err != nil {
		return uuid.Nil, apperrors.InvalidPayload("malformed order id")
	}
	return orderID, nil
}
