package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"golang-pos-backend/internal/middleware"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// UserView is the account shape returned by the auth endpoints. The local
// row carries no credentials; those live with the identity provider.
type UserView struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	EmailVerified bool    `json:"email_verified"`
	Role          string  `json:"role"`
	RestaurantID  *string `json:"restaurant_id,omitempty"`
	IsActive      bool    `json:"is_active"`
	LastLoginAt   *string `json:"last_login_at,omitempty"`
}

func newUserView(user *models.User) UserView {
	view := UserView{
		ID:            user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		IsActive:      user.IsActive,
	}
	if user.RestaurantID != nil {
		rid := user.RestaurantID.String()
		view.RestaurantID = &rid
	}
	if user.LastLoginAt != nil {
		at := user.LastLoginAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		view.LastLoginAt = &at
	}
	return view
}

// @Summary Verify a bearer token
// @Description Verify the token with the identity provider and provision the local account on first sight
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	// AuthRequired already verified the token and provisioned the user;
	// this endpoint reports the resulting account and binding.
	user, err := h.authService.CurrentUser(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, newUserView(user))
}

// @Summary Current account
// @Description Return the caller's account row and restaurant binding
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.CurrentUser(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, http.StatusOK, newUserView(user))
}

func (h *AuthHandler) RegisterRoutes(router *gin.RouterGroup, authMiddleware *middleware.AuthMiddleware) {
	auth := router.Group("/auth", authMiddleware.AuthRequired())
	{
		auth.POST("/verify", h.Verify)
		auth.GET("/me", h.Me)
	}
}
