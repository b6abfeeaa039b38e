package router

import (
	"slices"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/internal/api"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/di"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	RateLimiter *middleware.RateLimiter
}

// New creates a router with the shared middleware chain installed
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// request id first so the logger picks it up
	engine.Use(middleware.RequestID())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(container.Config.Security.AllowedOrigins))

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(container.Config.Security.RateLimit),
		Burst: container.Config.Security.RateLimitBurst,
	})

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		RateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()
	r.Engine.GET("/metrics", gin.WrapH(r.Container.Observability.Handler()))

	apiGroup := r.Engine.Group("/api")
	apiGroup.Use(r.RateLimiter.Middleware())
	if r.Container.Verifier != nil {
		apiGroup.Use(middleware.BearerAuth(r.Container.Verifier, r.Logger))
	}
	if r.Container.Validator != nil {
		apiGroup.Use(r.Container.Validator.Middleware())
	}

	api.NewChatHandler(r.Container.Store, r.Container.Settings).RegisterRoutes(apiGroup)
	api.NewSearchHandler(r.Container.Search, r.Container.Settings).RegisterRoutes(apiGroup)

	wsHandlers := []gin.HandlerFunc{r.RateLimiter.Middleware()}
	if r.Container.Verifier != nil {
		wsHandlers = append(wsHandlers, middleware.BearerAuth(r.Container.Verifier, r.Logger))
	}
	wsHandlers = append(wsHandlers, r.Container.Hub.ServeWS)
	r.Engine.GET("/ws", wsHandlers...)
}

// corsMiddleware allows the configured origins, including the headers a
// WebSocket upgrade needs.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "" || allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
