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

type InventoryHandler struct {
	inventoryService *services.InventoryService
	idempotency      *services.IdempotencyStore
}

func NewInventoryHandler(inventoryService *services.InventoryService, idempotency *services.IdempotencyStore) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService, idempotency: idempotency}
}

// @Summary List inventory
// @Tags inventory
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/inventory [get]
func (h *InventoryHandler) ListItems(c *gin.Context) {
	restaurantID := restaurantParam(c)

	items, err := h.inventoryService.ListItems(c.Request.Context(), restaurantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, items)
}

// @Summary Create or update an inventory item
// @Description Track a product's stock with min/max levels; one item per product
// @Tags inventory
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.UpsertInventoryRequest true "Item"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/inventory [put]
func (h *InventoryHandler) UpsertItem(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.UpsertInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	item, err := h.inventoryService.UpsertItem(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, item)
}

// @Summary Adjust stock
// @Description Apply a signed delta with a reason; stock floors at zero and low-stock events fire on crossing min level
// @Tags inventory
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param Idempotency-Key header string false "Retry key"
// @Param request body services.AdjustStockRequest true "Adjustment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/inventory/adjustments [post]
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	item, err := h.inventoryService.AdjustStock(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, item)
}

// @Summary List stock movements
// @Tags inventory
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param product_id query string false "Only this product"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/inventory/movements [get]
func (h *InventoryHandler) ListMovements(c *gin.Context) {
	restaurantID := restaurantParam(c)
	page, limit, offset := parsePage(c)

	var productID *uuid.UUID
	if raw := c.Query("product_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperrors.InvalidPayload("malformed product_id"))
			return
		}
		productID = &id
	}

	movements, total, err := h.inventoryService.ListMovements(c.Request.Context(), restaurantID, productID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKWithMeta(c, http.StatusOK, movements, response.PageMeta(page, limit, total))
}

// @Summary List low-stock items
// @Tags inventory
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/inventory/low-stock [get]
func (h *InventoryHandler) LowStock(c *gin.Context) {
	restaurantID := restaurantParam(c)

	items, err := h.inventoryService.LowStock(c.Request.Context(), restaurantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, items)
}

func (h *InventoryHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	scoped := router.Group("/restaurants/:id/inventory", authMiddleware.AuthRequired(), authMiddleware.RestaurantAccess("id"))
	{
		scoped.GET("", h.ListItems)
		scoped.GET("/movements", h.ListMovements)
		scoped.GET("/low-stock", h.LowStock)

		managed := scoped.Group("", authMiddleware.RoleRequired(models.RoleRestaurantOwner, models.RoleManager))
		{
			managed.PUT("", h.UpsertItem)
			managed.POST("/adjustments", middleware.Idempotency(h.idempotency), h.AdjustStock)
		}
	}
}
