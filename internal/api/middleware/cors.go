package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, X-Request-ID"
	corsExpose  = "Retry-After, X-Request-ID"
)

// originSet holds the site's embedding origins
type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(allowOrigins []string) originSet {
	set := originSet{origins: make(map[string]struct{}, len(allowOrigins))}
	for _, o := range allowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			set.any = true
		default:
			set.origins[o] = struct{}{}
		}
	}
	return set
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, if any
func (s originSet) allowOrigin(origin string) (string, bool) {
	if origin == "" {
		return "*", s.any
	}
	if _, ok := s.origins[origin]; ok || s.any {
		return origin, true
	}
	return "", false
}

// CORS answers cross-origin requests from the site's allowed origins.
// Preflights always end with 204; a disallowed origin just gets no CORS headers.
func CORS(allowOrigins []string) gin.HandlerFunc {
	set := newOriginSet(allowOrigins)

	return func(c *gin.Context) {
		if value, ok := set.allowOrigin(c.GetHeader("Origin")); ok {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", value)
			if value != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", corsExpose)
			h.Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
