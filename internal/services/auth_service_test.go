package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
	"golang-pos-backend/pkg/identity"
)

// introspectionServer plays the identity provider: it looks the posted token
// up in a fixed table and returns that verdict.
func introspectionServer(t *testing.T, tokens map[string]identity.Introspection) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		verdict, ok := tokens[req.Token]
		if !ok {
			verdict = identity.Introspection{Valid: false}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(verdict))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type authFixture struct {
	svc   *AuthService
	users *fakeUserRepo
}

func newAuthFixture(t *testing.T, tokens map[string]identity.Introspection, platformOwners ...string) *authFixture {
	t.Helper()
	srv := introspectionServer(t, tokens)
	verifier := identity.NewVerifier(configs.IdentityConfig{
		ProviderURL: srv.URL,
		Timeout:     2 * time.Second,
		CacheTTL:    time.Minute,
	}, nil, testLogger())
	users := newFakeUserRepo()
	svc := NewAuthService(verifier, &stubTx{}, users, platformOwners, testLogger())
	return &authFixture{svc: svc, users: users}
}

func liveToken(externalID, email string, verified bool) identity.Introspection {
	return identity.Introspection{
		Valid:          true,
		ExternalUserID: externalID,
		Email:          email,
		EmailVerified:  verified,
		Exp:            time.Now().Add(time.Hour).Unix(),
	}
}

func TestAuthenticate_ProvisionsOnFirstSight(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "maria@example.com", true),
	})

	tc, err := f.svc.Authenticate(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", tc.Email)
	assert.Equal(t, models.RoleRestaurantOwner, tc.Role)
	assert.Nil(t, tc.RestaurantID)
	assert.False(t, tc.IsPlatformOwner)

	user, err := f.users.GetByExternalID(context.Background(), "idp|100")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	require.NotNil(t, user.LastLoginAt)
}

func TestAuthenticate_ReusesExistingAccount(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "maria@example.com", true),
	})
	rid := uuid.New()
	seeded := f.users.add(models.User{
		ExternalID:   "idp|100",
		Email:        "old-address@example.com",
		Role:         models.RoleCashier,
		RestaurantID: &rid,
		IsActive:     true,
	})

	tc, err := f.svc.Authenticate(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, seeded.ID, tc.UserID)
	assert.Equal(t, models.RoleCashier, tc.Role)
	require.NotNil(t, tc.RestaurantID)
	assert.Equal(t, rid, *tc.RestaurantID)
	// The provider's email is authoritative on every login.
	assert.Equal(t, "maria@example.com", tc.Email)
}

func TestAuthenticate_PromotesAllowlistedOwner(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "Root@Platform.example", true),
	}, "root@platform.example")
	rid := uuid.New()
	f.users.add(models.User{
		ExternalID:   "idp|100",
		Email:        "root@platform.example",
		Role:         models.RoleCashier,
		RestaurantID: &rid,
		IsActive:     true,
	})

	tc, err := f.svc.Authenticate(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, models.RolePlatformOwner, tc.Role)
	assert.True(t, tc.IsPlatformOwner)
	assert.Nil(t, tc.RestaurantID, "promotion severs any restaurant binding")
}

func TestAuthenticate_UnverifiedEmailIsNeverPromoted(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "root@platform.example", false),
	}, "root@platform.example")

	tc, err := f.svc.Authenticate(context.Background(), "tok-1")

	require.NoError(t, err)
	assert.Equal(t, models.RoleRestaurantOwner, tc.Role)
	assert.False(t, tc.IsPlatformOwner, "an unverified signup cannot squat an owner address")
}

func TestAuthenticate_RejectsDisabledAccount(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "maria@example.com", true),
	})
	f.users.add(models.User{
		ExternalID: "idp|100",
		Email:      "maria@example.com",
		Role:       models.RoleCashier,
		IsActive:   false,
	})

	_, err := f.svc.Authenticate(context.Background(), "tok-1")

	assert.True(t, apperrors.Is(err, apperrors.CodeUserDisabled))
}

func TestAuthenticate_RejectsBadToken(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{})

	_, err := f.svc.Authenticate(context.Background(), "garbage")
	assert.True(t, apperrors.Is(err, apperrors.CodeTokenInvalid))

	_, err = f.svc.Authenticate(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.CodeTokenMissing))
}

func TestAuthenticate_ExpiredTokenIsDistinguished(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-old": {
			Valid:          false,
			ExternalUserID: "idp|100",
			Email:          "maria@example.com",
			Exp:            time.Now().Add(-time.Minute).Unix(),
		},
	})

	_, err := f.svc.Authenticate(context.Background(), "tok-old")

	assert.True(t, apperrors.Is(err, apperrors.CodeTokenExpired))
}

func TestAuthenticateWS_BindsTheTargetRestaurant(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "sam@example.com", true),
	})
	rid := uuid.New()
	f.users.add(models.User{
		ExternalID:   "idp|100",
		Email:        "sam@example.com",
		Role:         models.RoleCook,
		RestaurantID: &rid,
		IsActive:     true,
	})

	tc, err := f.svc.AuthenticateWS(context.Background(), "tok-1", rid)
	require.NoError(t, err)
	require.NotNil(t, tc.RestaurantID)
	assert.Equal(t, rid, *tc.RestaurantID)

	_, err = f.svc.AuthenticateWS(context.Background(), "tok-1", uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.CodeContextMismatch))
}

func TestAuthenticateWS_DefaultsToOwnRestaurant(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "sam@example.com", true),
	})
	rid := uuid.New()
	f.users.add(models.User{
		ExternalID:   "idp|100",
		Email:        "sam@example.com",
		Role:         models.RoleCook,
		RestaurantID: &rid,
		IsActive:     true,
	})

	tc, err := f.svc.AuthenticateWS(context.Background(), "tok-1", uuid.Nil)

	require.NoError(t, err)
	require.NotNil(t, tc.RestaurantID)
	assert.Equal(t, rid, *tc.RestaurantID)
}

func TestAuthenticateWS_UnboundUserNeedsATarget(t *testing.T) {
	f := newAuthFixture(t, map[string]identity.Introspection{
		"tok-1": liveToken("idp|100", "new@example.com", true),
	})

	_, err := f.svc.AuthenticateWS(context.Background(), "tok-1", uuid.Nil)

	assert.True(t, apperrors.Is(err, apperrors.CodeContextMismatch))
}

func TestCurrentUser_ReturnsTheCallerRow(t *testing.T) {
	f := newAuthFixture(t, nil)
	rid := uuid.New()
	user := f.users.add(models.User{
		ExternalID:   "idp|100",
		Email:        "sam@example.com",
		Role:         models.RoleServer,
		RestaurantID: &rid,
		IsActive:     true,
	})
	ctx := userContext(user)

	got, err := f.svc.CurrentUser(ctx)

	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "sam@example.com", got.Email)
}
