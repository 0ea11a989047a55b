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

type RestaurantHandler struct {
	restaurantService *services.RestaurantService
}

func NewRestaurantHandler(restaurantService *services.RestaurantService) *RestaurantHandler {
	return &RestaurantHandler{restaurantService: restaurantService}
}

// @Summary Create a restaurant
// @Description Onboard a tenant; a user with no restaurant creates their own, platform owners create for a named owner_email
// @Tags restaurants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body services.CreateRestaurantRequest true "Restaurant creation request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants [post]
func (h *RestaurantHandler) CreateRestaurant(c *gin.Context) {
	var req services.CreateRestaurantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.restaurantService.CreateRestaurant(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, restaurant)
}

// @Summary Get a restaurant
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id} [get]
func (h *RestaurantHandler) GetRestaurant(c *gin.Context) {
	restaurantID := restaurantParam(c)

	restaurant, err := h.restaurantService.GetRestaurant(c.Request.Context(), restaurantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

// @Summary Update a restaurant
// @Description Update profile fields, tax and service-charge rates, and the open flag
// @Tags restaurants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.UpdateRestaurantRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id} [put]
func (h *RestaurantHandler) UpdateRestaurant(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.UpdateRestaurantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.restaurantService.UpdateRestaurant(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

// @Summary Replace opening hours
// @Description Replace the weekly opening-hours document; times are HH:MM in the restaurant's timezone
// @Tags restaurants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body map[string]services.DayHours true "Weekday to hours"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/hours [put]
func (h *RestaurantHandler) UpdateHours(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var hours map[string]services.DayHours
	if err := c.ShouldBindJSON(&hours); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	restaurant, err := h.restaurantService.UpdateHours(c.Request.Context(), restaurantID, hours)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, restaurant)
}

type assignStaffRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// @Summary Assign a staff member
// @Description Bind a signed-in user to the restaurant under a role, or change an existing member's role
// @Tags restaurants
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body assignStaffRequest true "Staff assignment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/users [put]
func (h *RestaurantHandler) AssignStaff(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req assignStaffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	member, err := h.restaurantService.AssignStaff(c.Request.Context(), restaurantID, req.Email, req.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, newUserView(member))
}

// @Summary List staff
// @Tags restaurants
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/users [get]
func (h *RestaurantHandler) ListStaff(c *gin.Context) {
	restaurantID := restaurantParam(c)

	users, err := h.restaurantService.ListStaff(c.Request.Context(), restaurantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]UserView, 0, len(users))
	for i := range users {
		views = append(views, newUserView(&users[i]))
	}
	response.OK(c, http.StatusOK, views)
}

func (h *RestaurantHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	router.POST("/restaurants", authMiddleware.AuthRequired(), h.CreateRestaurant)

	scoped := router.Group("/restaurants/:id", authMiddleware.AuthRequired(), authMiddleware.RestaurantAccess("id"))
	{
		scoped.GET("", h.GetRestaurant)

		managed := scoped.Group("", authMiddleware.RoleRequired(models.RoleRestaurantOwner, models.RoleManager))
		{
			managed.PUT("", h.UpdateRestaurant)
			managed.PUT("/hours", h.UpdateHours)
			managed.GET("/users", h.ListStaff)
			managed.PUT("/users", h.AssignStaff)
		}
	}
}

// restaurantParam returns the :id path parameter already validated by
// RestaurantAccess.
func restaurantParam(c *gin.Context) uuid.UUID {
	id, _ := uuid.Parse(c.Param("id"))
	return id
}
