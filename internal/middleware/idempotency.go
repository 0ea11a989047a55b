package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"golang-pos-backend/internal/response"
	"golang-pos-backend/internal/services"
)

// bodyCapture tees the handler's response so the idempotency store can
// replay it for a retried key.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency makes mutating routes safe to retry: requests carrying an
// Idempotency-Key are claimed in the store, their response recorded, and
// replays with the same key and payload served the recorded response.
// Requests without the header pass through untouched. Runs after
// RestaurantAccess so the key is scoped to the target restaurant.
func Idempotency(store *services.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}
		restaurantID, err := uuid.Parse(c.GetString("restaurant_id"))
		if err != nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Abort(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := services.Fingerprint(c.Request.Method, c.Request.URL.Path, body)
		stored, err := store.Begin(c.Request.Context(), restaurantID, key, fingerprint)
		if err != nil {
			response.Abort(c, err)
			return
		}
		if stored != nil {
			c.Header("Idempotent-Replay", "true")
			c.Data(stored.Status, "application/json", stored.Body)
			c.Abort()
			return
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		// 5xx responses release the key so the client can retry the same
		// request; everything else is the recorded outcome for this key.
		status := c.Writer.Status()
		if status >= 500 {
			store.Release(c.Request.Context(), restaurantID, key)
			return
		}
		store.Complete(c.Request.Context(), restaurantID, key, fingerprint, status, capture.buf.Bytes())
	}
}
