package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// apiKeyFrom reads the admin key from X-API-Key or a bearer token
func apiKeyFrom(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Auth guards the admin API with a static key. An empty key leaves it open,
// which is logged once at startup.
func Auth(apiKey string, logger *zap.Logger) gin.HandlerFunc {
	if apiKey == "" {
		logger.Warn("admin API key not set, admin endpoints are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(apiKey)

	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(apiKeyFrom(c)), want) != 1 {
			logger.Info("admin request rejected",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
				zap.String(RequestIDKey, c.GetString(RequestIDKey)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
