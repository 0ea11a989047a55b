package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-pos-backend/internal/apperrors"
)

func TestRoundTripThroughContext(t *testing.T) {
	rid := uuid.New()
	tc := &Context{
		UserID:       uuid.New(),
		Email:        "sam@example.com",
		Role:         "cashier",
		RestaurantID: &rid,
	}

	ctx := NewContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, tc, got)

	got, err := Require(ctx)
	require.NoError(t, err)
	assert.Same(t, tc, got)
}

func TestRequire_MissingContextIsInternal(t *testing.T) {
	_, err := Require(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CodeInternal))

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestCanAccessRestaurant(t *testing.T) {
	mine := uuid.New()
	other := uuid.New()

	bound := &Context{RestaurantID: &mine}
	assert.True(t, bound.CanAccessRestaurant(mine))
	assert.False(t, bound.CanAccessRestaurant(other))

	unbound := &Context{}
	assert.False(t, unbound.CanAccessRestaurant(mine))

	platform := &Context{IsPlatformOwner: true}
	assert.True(t, platform.CanAccessRestaurant(mine))
	assert.True(t, platform.CanAccessRestaurant(other))
}

func TestRestaurantIDString(t *testing.T) {
	rid := uuid.New()
	assert.Equal(t, rid.String(), (&Context{RestaurantID: &rid}).RestaurantIDString())
	assert.Equal(t, "", (&Context{}).RestaurantIDString())
}

func TestContextDoesNotLeakAcrossRequests(t *testing.T) {
	first := NewContext(context.Background(), &Context{Email: "a@example.com"})
	second := NewContext(context.Background(), &Context{Email: "b@example.com"})

	a, _ := FromContext(first)
	b, _ := FromContext(second)
	assert.Equal(t, "a@example.com", a.Email)
	assert.Equal(t, "b@example.com", b.Email)
}
