package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/services"
)

// mapCache satisfies services.Cache for middleware tests.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(b, dest)
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *mapCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	_, exists := c.entries[key]
	c.mu.Unlock()
	if exists {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

// idempotentRouter mounts a counting handler behind the idempotency
// middleware, with the restaurant binding a real request would carry.
func idempotentRouter(rid uuid.UUID, handler gin.HandlerFunc) (*gin.Engine, *services.IdempotencyStore) {
	store := services.NewIdempotencyStore(newMapCache(), zerolog.Nop())
	router := gin.New()
	router.POST("/orders", func(c *gin.Context) {
		c.Set("restaurant_id", rid.String())
		c.Next()
	}, Idempotency(store), handler)
	return router, store
}

func postOrders(router *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ReplaysTheRecordedResponse(t *testing.T) {
	calls := 0
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"order_number": 1001, "call": calls})
	})

	first := postOrders(router, "key-1", `{"type":"dine_in"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replay"))

	second := postOrders(router, "key-1", `{"type":"dine_in"}`)

	assert.Equal(t, 1, calls, "the handler ran once")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdempotency_KeyReuseWithDifferentBodyConflicts(t *testing.T) {
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	require.Equal(t, http.StatusCreated, postOrders(router, "key-1", `{"type":"dine_in"}`).Code)

	rec := postOrders(router, "key-1", `{"type":"takeaway"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeIdempotencyConflict, errorCode(t, rec))
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	calls := 0
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	postOrders(router, "", `{"type":"dine_in"}`)
	postOrders(router, "", `{"type":"dine_in"}`)

	assert.Equal(t, 2, calls)
}

func TestIdempotency_ServerErrorsReleaseTheKey(t *testing.T) {
	calls := 0
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	first := postOrders(router, "key-1", `{}`)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// The 5xx released the claim, so the retry executes instead of replaying
	// the failure.
	second := postOrders(router, "key-1", `{}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, 2, calls)
	assert.Empty(t, second.Header().Get("Idempotent-Replay"))
}

func TestIdempotency_ClientErrorsAreReplayedToo(t *testing.T) {
	calls := 0
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, gin.H{"success": false})
	})

	postOrders(router, "key-1", `{}`)
	second := postOrders(router, "key-1", `{}`)

	assert.Equal(t, 1, calls, "a 4xx is this key's recorded outcome")
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
}

func TestIdempotency_SkipsRoutesWithoutARestaurantBinding(t *testing.T) {
	calls := 0
	store := services.NewIdempotencyStore(newMapCache(), zerolog.Nop())
	router := gin.New()
	// No RestaurantAccess equivalent ran, so there is nothing to scope the
	// key to and the middleware steps aside.
	router.POST("/orders", Idempotency(store), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	postOrders(router, "key-1", `{}`)
	postOrders(router, "key-1", `{}`)

	assert.Equal(t, 2, calls)
}

func TestIdempotency_HandlerStillReadsTheBody(t *testing.T) {
	router, _ := idempotentRouter(uuid.New(), func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusCreated, gin.H{"echo": body["type"]})
	})

	rec := postOrders(router, "key-1", `{"type":"takeaway"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%q", "takeaway"))
}
