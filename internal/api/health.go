package api

import (
	"net/http"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/chatroom"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/health"

	"github.com/gin-gonic/gin"
)

// HubStats reports live room counts
type HubStats interface {
	Stats() chatroom.Stats
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker   *health.Checker
	hub       HubStats
	version   string
	startTime time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Version    string                      `json:"version"`
	Uptime     string                      `json:"uptime"`
	Components map[string]health.Component `json:"components,omitempty"`
	Rooms      chatroom.Stats              `json:"rooms"`
}

// NewHealthHandler creates a health handler; hub may be nil
func NewHealthHandler(checker *health.Checker, hub HubStats, version string) *HealthHandler {
	return &HealthHandler{checker: checker, hub: hub, version: version, startTime: time.Now()}
}

// Health returns a component summary, 503 when a critical check is down
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.hub != nil {
		response.Rooms = h.hub.Stats()
	}

	status := http.StatusOK
	if h.checker != nil {
		response.Components = h.checker.GetStatus()
		if !h.checker.IsSystemHealthy() {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, response)
}

// RegisterRoutes registers health check related routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
}
