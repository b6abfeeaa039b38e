package middleware

import (
	"strings"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/jwt"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding validated *jwt.Claims
const ClaimsKey = "claims"

// BearerAuth checks that the request carries a valid token and adds its
// claims to the context. Browsers cannot set headers on WebSocket upgrades,
// so a "token" query parameter is accepted as a fallback.
func BearerAuth(verifier *jwt.Verifier, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := verifier.Validate(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by BearerAuth, if any
func ClaimsFrom(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}
