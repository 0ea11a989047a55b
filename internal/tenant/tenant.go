package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"golang-pos-backend/internal/apperrors"
)

// Context is the per-request security context bound after token
// verification. It travels in context.Context so it follows the request
// across goroutines without ever leaking into pooled workers.
type Context struct {
	UserID          uuid.UUID
	Email           string
	Role            string
	RestaurantID    *uuid.UUID
	IsPlatformOwner bool
}

type ctxKey struct{}

var errNoContext = errors.New("tenant context missing from request")

func NewContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}

// Require returns the bound context or an internal error; a missing context
// on an authenticated path is a programming bug, not a client fault.
func Require(ctx context.Context) (*Context, error) {
	tc, ok := FromContext(ctx)
	if !ok || tc == nil {
		return nil, apperrors.Internal(errNoContext)
	}
	return tc, nil
}

// CanAccessRestaurant reports whether the context may touch the given
// restaurant. Platform owners may target any restaurant; everyone else is
// pinned to their own.
func (c *Context) CanAccessRestaurant(restaurantID uuid.UUID) bool {
	if c.IsPlatformOwner {
		return true
	}
	return c.RestaurantID != nil && *c.RestaurantID == restaurantID
}

// RestaurantIDString is the value bound into the RLS session variable; empty
// when the context has no restaurant (platform owners pre-targeting).
func (c *Context) RestaurantIDString() string {
	if c.RestaurantID == nil {
		return ""
	}
	return c.RestaurantID.String()
}
