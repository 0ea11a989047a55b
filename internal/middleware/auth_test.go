package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAuth resolves tokens from a fixed table.
type fakeAuth struct {
	contexts map[string]*tenant.Context
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*tenant.Context, error) {
	tc, ok := f.contexts[token]
	if !ok {
		return nil, apperrors.TokenInvalid()
	}
	return tc, nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error.Code
}

func boundContext(role string, rid uuid.UUID) *tenant.Context {
	return &tenant.Context{
		UserID:       uuid.New(),
		Email:        role + "@example.com",
		Role:         role,
		RestaurantID: &rid,
	}
}

func TestAuthRequired_BindsTheTenantContext(t *testing.T) {
	rid := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"good-token": boundContext("cashier", rid),
	}})

	router := gin.New()
	router.GET("/probe", auth.AuthRequired(), func(c *gin.Context) {
		tc, ok := tenant.FromContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"email":         tc.Email,
			"restaurant_id": c.GetString("restaurant_id"),
			"role":          c.GetString("user_role"),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cashier@example.com", body["email"])
	assert.Equal(t, rid.String(), body["restaurant_id"])
	assert.Equal(t, "cashier", body["role"])
}

func TestAuthRequired_RejectsMissingOrMalformedHeader(t *testing.T) {
	auth := NewAuthMiddleware(&fakeAuth{})
	router := gin.New()
	router.GET("/probe", auth.AuthRequired(), func(c *gin.Context) {
		c.String(http.StatusOK, "reached")
	})

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"no header", "", apperrors.CodeTokenMissing},
		{"wrong scheme", "Basic dXNlcjpwYXNz", apperrors.CodeTokenInvalid},
		{"empty token", "Bearer ", apperrors.CodeTokenInvalid},
		{"unknown token", "Bearer nope", apperrors.CodeTokenInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestRestaurantAccess_PinsCallersToTheirRestaurant(t *testing.T) {
	rid := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"staff": boundContext("cashier", rid),
	}})

	router := gin.New()
	router.GET("/restaurants/:id/orders", auth.AuthRequired(), auth.RestaurantAccess("id"), func(c *gin.Context) {
		tc, _ := tenant.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"bound": tc.RestaurantID.String()})
	})

	own := httptest.NewRequest(http.MethodGet, "/restaurants/"+rid.String()+"/orders", nil)
	own.Header.Set("Authorization", "Bearer staff")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, own)
	assert.Equal(t, http.StatusOK, rec.Code)

	foreign := httptest.NewRequest(http.MethodGet, "/restaurants/"+uuid.NewString()+"/orders", nil)
	foreign.Header.Set("Authorization", "Bearer staff")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, foreign)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeContextMismatch, errorCode(t, rec))

	malformed := httptest.NewRequest(http.MethodGet, "/restaurants/not-a-uuid/orders", nil)
	malformed.Header.Set("Authorization", "Bearer staff")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, malformed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestaurantAccess_PlatformOwnerTargetsAnyRestaurant(t *testing.T) {
	target := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"admin": {UserID: uuid.New(), Email: "root@platform.example", Role: "platform_owner", IsPlatformOwner: true},
	}})

	router := gin.New()
	router.GET("/restaurants/:id/orders", auth.AuthRequired(), auth.RestaurantAccess("id"), func(c *gin.Context) {
		tc, _ := tenant.FromContext(c.Request.Context())
		// The context is rebound to the target so downstream transactions
		// scope to it.
		c.JSON(http.StatusOK, gin.H{"bound": tc.RestaurantID.String()})
	})

	req := httptest.NewRequest(http.MethodGet, "/restaurants/"+target.String()+"/orders", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, target.String(), body["bound"])
}

func TestRoleRequired_GatesByRole(t *testing.T) {
	rid := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"manager": boundContext("manager", rid),
		"cook":    boundContext("cook", rid),
		"admin":   {UserID: uuid.New(), Role: "platform_owner", IsPlatformOwner: true},
	}})

	router := gin.New()
	router.POST("/products", auth.AuthRequired(), auth.RoleRequired("restaurant_owner", "manager"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/products", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, send("manager").Code)
	assert.Equal(t, http.StatusCreated, send("admin").Code, "platform owners always pass")

	rec := send("cook")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeRoleInsufficient, errorCode(t, rec))
}

func TestPlatformOwnerRequired(t *testing.T) {
	rid := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"owner": boundContext("restaurant_owner", rid),
		"admin": {UserID: uuid.New(), Role: "platform_owner", IsPlatformOwner: true},
	}})

	router := gin.New()
	router.GET("/platform/restaurants", auth.AuthRequired(), auth.PlatformOwnerRequired(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/platform/restaurants", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/platform/restaurants", nil)
	req.Header.Set("Authorization", "Bearer owner")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsAccess_LoopbackIsFreeRemoteNeedsPlatformOwner(t *testing.T) {
	rid := uuid.New()
	auth := NewAuthMiddleware(&fakeAuth{contexts: map[string]*tenant.Context{
		"admin": {UserID: uuid.New(), Role: "platform_owner", IsPlatformOwner: true},
		"staff": boundContext("cashier", rid),
	}})

	router := gin.New()
	router.GET("/metrics", auth.MetricsAccess(), func(c *gin.Context) {
		c.String(http.StatusOK, "pos_up 1")
	})

	send := func(remoteAddr, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = remoteAddr
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("127.0.0.1:52000", "").Code, "local scrapes carry no credentials")

	rec := send("203.0.113.9:52000", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.CodeTokenMissing, errorCode(t, rec))

	rec = send("203.0.113.9:52000", "staff")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeRoleInsufficient, errorCode(t, rec))

	assert.Equal(t, http.StatusOK, send("203.0.113.9:52000", "admin").Code)
}
