package router

import (
	"os"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/api"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	handler := api.NewHealthHandler(r.Container.Health, r.Container.Hub, os.Getenv("APP_VERSION"))

	// both paths for compatibility
	handler.RegisterRoutes(r.Engine)
	handler.RegisterRoutes(r.Engine.Group("/api"))
}
