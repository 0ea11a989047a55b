package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

type MenuHandler struct {
	menuService *services.MenuService
}

func NewMenuHandler(menuService *services.MenuService) *MenuHandler {
	return &MenuHandler{menuService: menuService}
}

// @Summary Get the menu
// @Description Versioned menu read served from cache when possible; the X-Cache header reports HIT, MISS or BYPASS
// @Tags menu
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param category_id query string false "Only this category"
// @Param available_only query bool false "Only products marked available"
// @Param include_inactive query bool false "Include inactive rows (manager and up)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/menu [get]
func (h *MenuHandler) GetMenu(c *gin.Context) {
	restaurantID := restaurantParam(c)

	filter := services.MenuFilter{
		AvailableOnly:   c.Query("available_only") == "true",
		IncludeInactive: c.Query("include_inactive") == "true",
	}
	if raw := c.Query("category_id"); raw != "" {
		categoryID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, apperrors.InvalidPayload("malformed category_id"))
			return
		}
		filter.CategoryID = &categoryID
	}

	view, cacheStatus, err := h.menuService.GetMenu(c.Request.Context(), restaurantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("X-Cache", cacheStatus)
	response.OK(c, http.StatusOK, view)
}

// @Summary List categories
// @Tags menu
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param include_inactive query bool false "Include inactive categories"
// @Success 200 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/categories [get]
func (h *MenuHandler) ListCategories(c *gin.Context) {
	restaurantID := restaurantParam(c)

	categories, err := h.menuService.ListCategories(c.Request.Context(), restaurantID, c.Query("include_inactive") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, categories)
}

// @Summary Create a category
// @Tags menu
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.CreateCategoryRequest true "Category"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/categories [post]
func (h *MenuHandler) CreateCategory(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	category, err := h.menuService.CreateCategory(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, category)
}

// @Summary Update a category
// @Tags menu
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param category_id path string true "Category ID"
// @Param request body services.UpdateCategoryRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/categories/{category_id} [put]
func (h *MenuHandler) UpdateCategory(c *gin.Context) {
	restaurantID := restaurantParam(c)
	categoryID, err := uuid.Parse(c.Param("category_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed category id"))
		return
	}

	var req services.UpdateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	category, err := h.menuService.UpdateCategory(c.Request.Context(), restaurantID, categoryID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, category)
}

// @Summary Create a product
// @Tags menu
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param request body services.CreateProductRequest true "Product"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/products [post]
func (h *MenuHandler) CreateProduct(c *gin.Context) {
	restaurantID := restaurantParam(c)

	var req services.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	product, err := h.menuService.CreateProduct(c.Request.Context(), restaurantID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusCreated, product)
}

// @Summary Get a product
// @Tags menu
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param product_id path string true "Product ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/products/{product_id} [get]
func (h *MenuHandler) GetProduct(c *gin.Context) {
	restaurantID := restaurantParam(c)
	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed product id"))
		return
	}

	product, err := h.menuService.GetProduct(c.Request.Context(), restaurantID, productID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, product)
}

// @Summary Update a product
// @Description Price, availability and profile updates; every change bumps the catalog version
// @Tags menu
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param product_id path string true "Product ID"
// @Param request body services.UpdateProductRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/products/{product_id} [put]
func (h *MenuHandler) UpdateProduct(c *gin.Context) {
	restaurantID := restaurantParam(c)
	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed product id"))
		return
	}

	var req services.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.InvalidPayload(err.Error()))
		return
	}

	product, err := h.menuService.UpdateProduct(c.Request.Context(), restaurantID, productID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, product)
}

// @Summary Retire a product
// @Description Soft delete; the product stays on past order lines but leaves the menu
// @Tags menu
// @Security BearerAuth
// @Produce json
// @Param id path string true "Restaurant ID"
// @Param product_id path string true "Product ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/restaurants/{id}/products/{product_id} [delete]
func (h *MenuHandler) DeleteProduct(c *gin.Context) {
	restaurantID := restaurantParam(c)
	productID, err := uuid.Parse(c.Param("product_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed product id"))
		return
	}

	if err := h.menuService.DeleteProduct(c.Request.Context(), restaurantID, productID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *MenuHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	scoped := router.Group("/restaurants/:id", authMiddleware.AuthRequired(), authMiddleware.RestaurantAccess("id"))
	{
		scoped.GET("/menu", h.GetMenu)
		scoped.GET("/categories", h.ListCategories)
		scoped.GET("/products/:product_id", h.GetProduct)

		managed := scoped.Group("", authMiddleware.RoleRequired(models.RoleRestaurantOwner, models.RoleManager))
		{
			managed.POST("/categories", h.CreateCategory)
			managed.PUT("/categories/:category_id", h.UpdateCategory)
			managed.POST("/products", h.CreateProduct)
			managed.PUT("/products/:product_id", h.UpdateProduct)
			managed.DELETE("/products/:product_id", h.DeleteProduct)
		}
	}
}

// parsePage reads page/limit query parameters with the API defaults.
func parsePage(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}
