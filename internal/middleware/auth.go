package middleware

import (
	"context"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/tenant"
)

// Authenticator turns a bearer token into a tenant context, provisioning the
// user on first sight.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*tenant.Context, error)
}

type AuthMiddleware struct {
	authenticator Authenticator
}

func NewAuthMiddleware(authenticator Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

// AuthRequired verifies the bearer token against the identity provider and
// binds the resolved tenant context to the request.
func (a *AuthMiddleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Abort(c, err)
			return
		}

		tc, err := a.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}

		c.Request = c.Request.WithContext(tenant.NewContext(c.Request.Context(), tc))
		c.Set("user_id", tc.UserID.String())
		c.Set("user_email", tc.Email)
		c.Set("user_role", tc.Role)
		if tc.RestaurantID != nil {
			c.Set("restaurant_id", tc.RestaurantID.String())
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", apperrors.TokenMissing()
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apperrors.TokenInvalid()
	}
	return parts[1], nil
}

// RestaurantAccess checks the :id path parameter against the caller's
// restaurant binding and rebinds the tenant context to the target so
// downstream transactions run scoped to it. Platform owners pass for any
// restaurant.
func (a *AuthMiddleware) RestaurantAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		restaurantID, err := uuid.Parse(c.Param(param))
		if err != nil {
			response.Abort(c, apperrors.InvalidPayload("malformed restaurant id"))
			return
		}

		tc, ok := tenant.FromContext(c.Request.Context())
		if !ok {
			response.Abort(c, apperrors.Internal(nil))
			return
		}
		if !tc.CanAccessRestaurant(restaurantID) {
			response.Abort(c, apperrors.ContextMismatch(""))
			return
		}

		bound := *tc
		bound.RestaurantID = &restaurantID
		c.Request = c.Request.WithContext(tenant.NewContext(c.Request.Context(), &bound))
		c.Set("restaurant_id", restaurantID.String())
		c.Next()
	}
}

// RoleRequired allows only the listed roles. Platform owners always pass.
func (a *AuthMiddleware) RoleRequired(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := tenant.FromContext(c.Request.Context())
		if !ok {
			response.Abort(c, apperrors.Internal(nil))
			return
		}
		if tc.IsPlatformOwner {
			c.Next()
			return
		}
		for _, role := range roles {
			if tc.Role == role {
				c.Next()
				return
			}
		}
		response.Abort(c, apperrors.RoleInsufficient(tc.Role))
	}
}

// PlatformOwnerRequired gates the platform administration surface.
func (a *AuthMiddleware) PlatformOwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := tenant.FromContext(c.Request.Context())
		if !ok {
			response.Abort(c, apperrors.Internal(nil))
			return
		}
		if !tc.IsPlatformOwner {
			response.Abort(c, apperrors.RoleInsufficient(tc.Role))
			return
		}
		c.Next()
	}
}

// MetricsAccess admits loopback scrapes without credentials; remote callers
// must present a platform-owner token.
func (a *AuthMiddleware) MetricsAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ip := net.ParseIP(c.ClientIP()); ip != nil && ip.IsLoopback() {
			c.Next()
			return
		}

		token, err := bearerToken(c)
		if err != nil {
			response.Abort(c, err)
			return
		}
		tc, err := a.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if !tc.IsPlatformOwner {
			response.Abort(c, apperrors.RoleInsufficient(tc.Role))
			return
		}
		c.Next()
	}
}
