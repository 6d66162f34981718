package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allow   []string
		origin  string
		want    string
		varyHdr bool
	}{
		{"listed origin", []string{"https://library.example/"}, "https://library.example", "https://library.example", true},
		{"unlisted origin", []string{"https://library.example"}, "https://evil.example", "", false},
		{"wildcard echoes origin", []string{"*"}, "https://any.example", "https://any.example", true},
		{"wildcard without origin", []string{"*"}, "", "*", false},
		{"no origin, no wildcard", []string{"https://library.example"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.allow))
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.varyHdr, w.Header().Get("Vary") == "Origin")
			if tt.want != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
			}
		})
	}
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth("secret", zap.NewNop()))

	tests := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{"no key", "", "", http.StatusUnauthorized},
		{"x-api-key", "X-API-Key", "secret", http.StatusOK},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"lowercase bearer", "Authorization", "bearer secret", http.StatusOK},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "secreT", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestAuth_EmptyKeyIsOpen(t *testing.T) {
	r := newEngine(Auth("", zap.NewNop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
