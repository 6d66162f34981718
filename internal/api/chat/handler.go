package chat

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/ragchat/internal/api/middleware"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/service"
	"go.uber.org/zap"
)

// Handler serves the streaming chat endpoints
type Handler struct {
	chatService *service.ChatService
	logger      *zap.Logger
}

// NewHandler creates a new chat handler
func NewHandler(chatService *service.ChatService, logger *zap.Logger) *Handler {
	return &Handler{chatService: chatService, logger: logger}
}

// RegisterRoutes registers chat routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.POST("/chat/compare", h.Compare)
}

// Chat answers one question as a server-sent event stream
func (h *Handler) Chat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	turn, err := h.chatService.Prepare(ctx, &req, c.ClientIP(), c.GetString(middleware.RequestIDKey))
	if err != nil {
		h.writeError(c, err)
		return
	}

	em := h.openStream(c)
	h.chatService.Stream(ctx, turn, em)
}

// Compare answers one question with two models side by side
func (h *Handler) Compare(c *gin.Context) {
	var req domain.ComparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	turn, err := h.chatService.PrepareComparison(ctx, &req, c.ClientIP(), c.GetString(middleware.RequestIDKey))
	if err != nil {
		h.writeError(c, err)
		return
	}

	em := h.openStream(c)
	h.chatService.StreamComparison(ctx, turn, em)
}

func (h *Handler) openStream(c *gin.Context) *service.StreamEmitter {
	service.SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	return service.NewStreamEmitter(c.Writer, c.Writer.Flush, h.logger.With(
		zap.String(middleware.RequestIDKey, c.GetString(middleware.RequestIDKey)),
	))
}

// writeError maps pre-stream failures to plain HTTP errors
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		vErr  *domain.ValidationError
		rlErr *domain.RateLimitError
		cfErr *domain.ConfigError
	)

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &rlErr):
		if rlErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rlErr.RetryAfter.Seconds()))))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": rlErr.Error()})
	case errors.As(err, &cfErr):
		h.logger.Error("site configuration missing", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "site configuration missing"})
	default:
		h.logger.Error("failed to prepare chat request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
