// Package server exposes the triage pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/pipeline"
	"go.uber.org/zap"
)

// Triager is the part of the pipeline the handlers use.
type Triager interface {
	Triage(ctx context.Context, req pipeline.Request) pipeline.Result
	Reset(ctx context.Context, userID string) error
	Feedback(userID, sessionID string, d analytics.FeedbackData) error
	ResourceClick(userID, sessionID string, d analytics.ResourceClickData) error
	Stats() pipeline.Stats
	ResetLimiter()
	ClearCache(ctx context.Context) error
	Knowledge(category string) []models.KnowledgeEntry
}

type Handler struct {
	triager Triager
	logger  *zap.Logger
}

func NewHandler(triager Triager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{triager: triager, logger: logger}
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/triage", h.Triage)
		v1.POST("/feedback", h.Feedback)
		v1.POST("/resource-clicks", h.ResourceClick)
		v1.DELETE("/users/:id/state", h.ResetUser)
		v1.GET("/stats", h.Stats)
		v1.GET("/knowledge/:category", h.Knowledge)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/limiter/reset", h.ResetLimiter)
		admin.DELETE("/cache", h.ClearCache)
	}
}

// NewRouter builds a gin engine with recovery and request logging.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())
	SetupRoutes(router, h)
	return router
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

type triageRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// Triage handles POST /v1/triage.
func (h *Handler) Triage(c *gin.Context) {
	var req triageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	res := h.triager.Triage(c.Request.Context(), pipeline.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Text:      req.Message,
	})
	c.JSON(http.StatusOK, res)
}

type feedbackRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id"`
	Rating    string `json:"rating" binding:"required"`
	Comment   string `json:"comment"`
	MessageID string `json:"message_id"`
}

// Feedback handles POST /v1/feedback.
func (h *Handler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rating, err := analytics.ParseRating(req.Rating)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.triager.Feedback(req.UserID, req.SessionID, analytics.FeedbackData{
		Rating:    rating,
		Comment:   req.Comment,
		MessageID: req.MessageID,
	})
	if err != nil {
		h.unavailable(c, "Failed to queue feedback", err)
		return
	}
	c.Status(http.StatusAccepted)
}

type resourceClickRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	SessionID    string `json:"session_id"`
	ResourceID   string `json:"resource_id" binding:"required"`
	ResourceType string `json:"resource_type" binding:"required"`
	Category     string `json:"category"`
}

// ResourceClick handles POST /v1/resource-clicks.
func (h *Handler) ResourceClick(c *gin.Context) {
	var req resourceClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ, err := analytics.ParseResourceType(req.ResourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.triager.ResourceClick(req.UserID, req.SessionID, analytics.ResourceClickData{
		ResourceID:   req.ResourceID,
		ResourceType: typ,
		Category:     req.Category,
	})
	if err != nil {
		h.unavailable(c, "Failed to queue resource click", err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ResetUser handles DELETE /v1/users/:id/state.
func (h *Handler) ResetUser(c *gin.Context) {
	userID := c.Param("id")
	if err := h.triager.Reset(c.Request.Context(), userID); err != nil {
		h.logger.Error("Failed to reset user", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset user state"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.triager.Stats())
}

// Knowledge handles GET /v1/knowledge/:category.
func (h *Handler) Knowledge(c *gin.Context) {
	category := strings.ToLower(c.Param("category"))
	entries := h.triager.Knowledge(category)
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no knowledge for category " + category})
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "entries": entries})
}

// ResetLimiter handles POST /v1/admin/limiter/reset.
func (h *Handler) ResetLimiter(c *gin.Context) {
	h.triager.ResetLimiter()
	c.Status(http.StatusNoContent)
}

// ClearCache handles DELETE /v1/admin/cache.
func (h *Handler) ClearCache(c *gin.Context) {
	if err := h.triager.ClearCache(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear classification cache", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache"})
		return
	}
	c.Status(http.StatusNoContent)
}

// unavailable reports a queueing failure. A closed processor means the
// service is shutting down.
func (h *Handler) unavailable(c *gin.Context, msg string, err error) {
	h.logger.Warn(msg, zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}
