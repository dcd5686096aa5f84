package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ready(ctx context.Context) error
}

// HealthChecker is an optional upstream (speech, translation) reported by /ready.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health and ready checks.
type HealthHandler struct {
	store     Pinger
	upstreams map[string]HealthChecker
}

// NewHealthHandler creates a health handler. upstreams are reported but never fail readiness.
func NewHealthHandler(store Pinger, upstreams map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{store: store, upstreams: upstreams}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "live-session-service",
		"time":    time.Now().Unix(),
	})
}

// Ready responds to GET /ready (for k8s readiness). Формат {"status": "ready"} для единообразия с остальными сервисами.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.store.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "database": err.Error()})
		return
	}
	upstreams := gin.H{}
	for name, u := range h.upstreams {
		if err := u.Health(ctx); err != nil {
			upstreams[name] = "unavailable"
			continue
		}
		upstreams[name] = "ok"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "database": "ok", "upstreams": upstreams})
}
