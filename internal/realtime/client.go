package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/tenant"
)

const (
	authWait       = 5 * time.Second
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 35 * time.Second
	maxFrameBytes  = 64 << 10
	sendQueueDepth = 256
	inboundRate    = 20 // messages per second per connection
)

// Authenticator resolves a WebSocket auth frame into a tenant context. The
// returned context always carries the effective restaurant binding.
type Authenticator interface {
	AuthenticateWS(ctx context.Context, token string, restaurantID uuid.UUID) (*tenant.Context, error)
}

type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authPayload struct {
	Token   string `json:"token"`
	SinceMs int64  `json:"since_ms,omitempty"`
}

type subscribePayload struct {
	Topics  []string `json:"topics"`
	SinceMs int64    `json:"since_ms,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is one authenticated WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	userID       uuid.UUID
	restaurantID uuid.UUID
	connType     string
	ip           string

	send    chan []byte
	queued  int64
	limiter *rate.Limiter

	subMu        sync.Mutex
	unsubscribed map[string]struct{}

	registered bool
	unregOnce  sync.Once
	closeOnce  sync.Once

	logger zerolog.Logger
}

// Serve runs the auth handshake and then both pumps. The restaurant target
// and connection type come from the upgrade path; the first frame carries
// only the bearer token. Serve blocks until the connection is closed and
// owns conn for its whole lifetime.
func Serve(ctx context.Context, hub *Hub, auth Authenticator, conn *websocket.Conn, restaurantID uuid.UUID, connType, ip string, logger zerolog.Logger) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(authWait))

	c, sinceMs, err := handshake(ctx, hub, auth, conn, restaurantID, connType, ip, logger)
	if err != nil {
		code := CloseUnauthorized
		if apperrors.Is(err, apperrors.CodeContextMismatch) || apperrors.Is(err, apperrors.CodeRoleInsufficient) || apperrors.Is(err, apperrors.CodeUserDisabled) {
			code = CloseForbidden
		} else if apperrors.Is(err, apperrors.CodeConnectionLimit) {
			code = CloseRateLimited
			hub.metrics.WSDropped.WithLabelValues("connection_limit").Inc()
		}
		closeConn(conn, code, err.Error())
		return
	}

	go c.writePump()
	if sinceMs > 0 {
		hub.Replay(c, time.UnixMilli(sinceMs))
	}
	c.readPump()
}

func handshake(ctx context.Context, hub *Hub, auth Authenticator, conn *websocket.Conn, restaurantID uuid.UUID, connType, ip string, logger zerolog.Logger) (*Client, int64, error) {
	if !ValidConnType(connType) {
		return nil, 0, apperrors.InvalidPayload("unknown connection type")
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, 0, apperrors.TokenMissing()
	}

	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "auth" {
		return nil, 0, apperrors.InvalidPayload("first frame must be auth")
	}
	var payload authPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		return nil, 0, apperrors.InvalidPayload("malformed auth frame")
	}

	tc, err := auth.AuthenticateWS(ctx, payload.Token, restaurantID)
	if err != nil {
		return nil, 0, err
	}
	if tc.RestaurantID == nil {
		return nil, 0, apperrors.ContextMismatch("no restaurant binding")
	}

	c := &Client{
		hub:          hub,
		conn:         conn,
		userID:       tc.UserID,
		restaurantID: *tc.RestaurantID,
		connType:     connType,
		ip:           ip,
		send:         make(chan []byte, sendQueueDepth),
		limiter:      rate.NewLimiter(rate.Limit(inboundRate), inboundRate),
		unsubscribed: make(map[string]struct{}),
		logger: logger.With().
			Str("component", "ws").
			Str("user_id", tc.UserID.String()).
			Str("restaurant_id", tc.RestaurantID.String()).
			Str("conn_type", connType).
			Logger(),
	}

	if err := hub.Register(c); err != nil {
		return nil, 0, err
	}

	ok, _ := json.Marshal(serverFrame{Type: "auth_ok", Data: map[string]interface{}{
		"user_id":       c.userID.String(),
		"restaurant_id": c.restaurantID.String(),
		"conn_type":     c.connType,
	}})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, ok); err != nil {
		hub.Unregister(c)
		return nil, 0, apperrors.Internal(err)
	}

	return c, payload.SinceMs, nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.hub.metrics.WSDropped.WithLabelValues("rate_limit").Inc()
			c.Close(CloseRateLimited, "message rate exceeded")
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("invalid_payload", "malformed frame")
			continue
		}

		switch frame.Type {
		case "ping":
			pong, _ := json.Marshal(serverFrame{Type: "pong"})
			c.enqueue(pong)
		case "subscribe":
			var p subscribePayload
			if err := json.Unmarshal(frame.Data, &p); err != nil {
				c.sendError("invalid_payload", "malformed subscribe frame")
				continue
			}
			c.subscribe(p.Topics)
			if p.SinceMs > 0 {
				c.hub.Replay(c, time.UnixMilli(p.SinceMs))
			}
		case "unsubscribe":
			var p subscribePayload
			if err := json.Unmarshal(frame.Data, &p); err != nil {
				c.sendError("invalid_payload", "malformed unsubscribe frame")
				continue
			}
			c.unsubscribe(p.Topics)
		default:
			c.sendError("invalid_payload", "unknown frame type")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(CloseNormal, ""), time.Now().Add(writeWait))
				return
			}
			atomic.AddInt64(&c.queued, -int64(len(payload)))
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump without blocking. Returns false
// when the connection has exceeded its outbound budget.
func (c *Client) enqueue(payload []byte) bool {
	if atomic.AddInt64(&c.queued, int64(len(payload))) > maxOutboundBuffer {
		atomic.AddInt64(&c.queued, -int64(len(payload)))
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		atomic.AddInt64(&c.queued, -int64(len(payload)))
		return false
	}
}

func (c *Client) sendError(code, message string) {
	payload, _ := json.Marshal(serverFrame{Type: "error", Data: errorPayload{Code: code, Message: message}})
	c.enqueue(payload)
}

// wantsTopic reports whether the event topic should reach this connection,
// honouring the connection-type allow list and explicit unsubscribes.
func (c *Client) wantsTopic(topic string) bool {
	if !topicAllowed(c.connType, topic) {
		return false
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	_, off := c.unsubscribed[topic]
	return !off
}

func (c *Client) subscribe(topics []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, t := range topics {
		delete(c.unsubscribed, t)
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, t := range topics {
		c.unsubscribed[t] = struct{}{}
	}
}

// Close writes the close frame, removes the client from its rooms and tears
// the socket down. Safe to call from any goroutine, any number of times.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.hub.Unregister(c)
		_ = c.conn.Close()
	})
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = conn.Close()
}
