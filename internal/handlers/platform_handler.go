package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

type PlatformHandler struct {
	platformService *services.PlatformService
}

func NewPlatformHandler(platformService *services.PlatformService) *PlatformHandler {
	return &PlatformHandler{platformService: platformService}
}

// @Summary List all restaurants
// @Tags platform
// @Security BearerAuth
// @Produce json
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/platform/restaurants [get]
func (h *PlatformHandler) ListRestaurants(c *gin.Context) {
	page, limit, offset := parsePage(c)

	restaurants, total, err := h.platformService.ListRestaurants(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKWithMeta(c, http.StatusOK, restaurants, response.PageMeta(page, limit, total))
}

// @Summary Set a restaurant's subscription tier
// @Description Tier gates provider access and sets the commission rate for future payments
// @Tags platform
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.SetTierRequest true "Tier"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/platform/restaurants/{id}/tier [put]
func (h *PlatformHandler) SetTier(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed restaurant id"))
		return
	}

	var req services.SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.platformService.SetTier(c.Request.Context(), restaurantID, req.Tier)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

// @Summary Activate or suspend a restaurant
// @Tags platform
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.SetStatusRequest true "Status (active or suspended)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/platform/restaurants/{id}/status [put]
func (h *PlatformHandler) SetStatus(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed restaurant id"))
		return
	}

	var req services.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.platformService.SetStatus(c.Request.Context(), restaurantID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

// @Summary Enable or disable a payment provider for a restaurant
// @Description Disabled providers are skipped during intent creation for this restaurant
// @Tags platform
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param provider path string true "Provider name" Enums(qrpay, sumup, stripe, applepay)
// @Param request body services.SetProviderRequest true "Disabled flag"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/platform/restaurants/{id}/providers/{provider} [put]
func (h *PlatformHandler) SetProvider(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed restaurant id"))
		return
	}

	var req services.SetProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.platformService.SetProviderDisabled(c.Request.Context(), restaurantID, c.Param("provider"), req.Disabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

// @Summary List commission records
// @Description Immutable per-payment commission ledger, optionally filtered by restaurant
// @Tags platform
// @Security BearerAuth
// @Produce json
// @Param restaurant_id query string false "Only this restaurant"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /api/v1/platform/commissions [get]
func (h *PlatformHandler) ListCommissions(c *gin.Context) {
	page, limit, offset := parsePage(c)

	var restaurantID *uuid.UUID
	if raw := c.Query("restaurant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperrors.InvalidPayload("malformed restaurant_id"))
			return
		}
		restaurantID = &id
	}

	records, total, err := h.platformService.ListCommissions(c.Request.Context(), restaurantID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKWithMeta(c, http.StatusOK, records, response.PageMeta(page, limit, total))
}

func (h *PlatformHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	platform := router.Group("/platform", authMiddleware.AuthRequired(), authMiddleware.PlatformOwnerRequired())
	{
		platform.GET("/restaurants", h.ListRestaurants)
		platform.PUT("/restaurants/:id/tier", h.SetTier)
		platform.PUT("/restaurants/:id/status", h.SetStatus)
		platform.PUT("/restaurants/:id/providers/:provider", h.SetProvider)
		platform.GET("/commissions", h.ListCommissions)
	}
}
