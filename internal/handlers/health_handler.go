package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"golang-pos-backend/internal/response"
)

const dependencyProbeTimeout = 2 * time.Second

// Pinger is anything the health endpoint can probe.
type Pinger interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	dependencies map[string]Pinger
	metrics      http.Handler
}

func NewHealthHandler(metricsHandler http.Handler) *HealthHandler {
	return &HealthHandler{
		dependencies: make(map[string]Pinger),
		metrics:      metricsHandler,
	}
}

// AddDependency registers a named dependency for the health report.
func (h *HealthHandler) AddDependency(name string, p Pinger) {
	h.dependencies[name] = p
}

// @Summary Service health
// @Description Always 200; per-dependency status tells operators what is degraded
// @Tags ops
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dependencyProbeTimeout)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.dependencies))
	for name, p := range h.dependencies {
		if err := p.Health(ctx); err != nil {
			deps[name] = "down"
			status = "degraded"
			continue
		}
		deps[name] = "up"
	}

	response.OK(c, http.StatusOK, gin.H{
		"status":       status,
		"dependencies": deps,
	})
}

// RegisterRoutes mounts /health openly; /metrics sits behind the supplied
// gate so local Prometheus scrapes stay credential-free while remote callers
// need a platform-owner token.
func (h *HealthHandler) RegisterRoutes(router *gin.Engine, metricsGate gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/metrics", metricsGate, gin.WrapH(h.metrics))
}
