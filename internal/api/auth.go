package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// When a token is configured, protected routes require:
//   Authorization: Bearer <token>
//
// Health, metrics and the websocket stream are mounted outside the
// protected group.
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware validates bearer tokens. An empty token disables auth,
// which config validation only permits in development.
func AuthMiddleware(token string, logger *zap.Logger) gin.HandlerFunc {
	if token == "" && logger != nil {
		logger.Warn("[SECURITY] API_AUTH_TOKEN is not set; protected endpoints are open")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			return
		}

		scheme, presented, ok := strings.Cut(auth, " ")
		if !ok || scheme != "Bearer" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Next()
	}
}
