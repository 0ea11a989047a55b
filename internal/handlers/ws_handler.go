package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/realtime"
	"golang-pos-backend/internal/response"
)

type WSHandler struct {
	hub      *realtime.Hub
	auth     realtime.Authenticator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewWSHandler(hub *realtime.Hub, auth realtime.Authenticator, allowedOrigins []string, logger zerolog.Logger) *WSHandler {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return &WSHandler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients (the POS terminals) send no Origin.
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// @Summary Real-time event stream
// @Description WebSocket upgrade; the first frame must be an auth frame, then events for the restaurant room flow until either side closes
// @Tags realtime
// @Param restaurant_id path string true "Restaurant ID"
// @Param conn_type path string true "Connection type" Enums(pos, kitchen, management)
// @Success 101 {string} string "Switching Protocols"
// @Failure 400 {object} response.Envelope
// @Router /ws/{restaurant_id}/{conn_type} [get]
func (h *WSHandler) Connect(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("restaurant_id"))
	if err != nil {
		response.Error(c, apperrors.InvalidPayload("malformed restaurant id"))
		return
	}
	connType := c.Param("conn_type")
	if !realtime.ValidConnType(connType) {
		response.Error(c, apperrors.InvalidPayload("conn_type must be pos, kitchen or management"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		h.logger.Debug().Err(err).Msg("websocket upgrade rejected")
		return
	}

	// Serve blocks for the life of the connection; returning from the
	// handler would cancel the request context under it.
	realtime.Serve(c.Request.Context(), h.hub, h.auth, conn, restaurantID, connType, c.ClientIP(), h.logger)
}

func (h *WSHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/:restaurant_id/:conn_type", h.Connect)
}
