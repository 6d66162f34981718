package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/ragchat/internal/api/admin"
	"github.com/liliang-cn/ragchat/internal/api/chat"
	"github.com/liliang-cn/ragchat/internal/api/middleware"
	"github.com/liliang-cn/ragchat/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	adminService *service.AdminService,
	cfg RouterConfig,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// Chat API (public)
	chatHandler := chat.NewHandler(chatService, logger)
	chatHandler.RegisterRoutes(r.Group("/api"))

	// Admin API (requires API key)
	adminHandler := admin.NewHandler(adminService)
	adminGroup := r.Group("/api/admin")
	adminGroup.Use(middleware.Auth(cfg.APIKey, logger))
	adminHandler.RegisterRoutes(adminGroup)

	return r
}
