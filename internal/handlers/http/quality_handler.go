package http

import (
	"fmt"
	"net/http"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/pkg/errors"
	"callpulse/pkg/utils"
	"callpulse/pkg/validation"

	"github.com/gin-gonic/gin"
)

// QualityHandler exposes session engines over REST. Errors are attached
// with c.Error and rendered by the error handler middleware.
type QualityHandler struct {
	sessions ports.SessionService
}

func NewQualityHandler(sessions ports.SessionService) *QualityHandler {
	return &QualityHandler{sessions: sessions}
}

func (h *QualityHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions", h.ListSessions)
		api.DELETE("/sessions/:id", h.DeleteSession)
		api.POST("/sessions/:id/samples", h.SubmitSample)
		api.POST("/sessions/:id/reset", h.ResetSession)
		api.GET("/sessions/:id", h.GetReport)
		api.GET("/sessions/:id/score", h.GetScore)
		api.GET("/sessions/:id/trend", h.GetTrend)
		api.GET("/sessions/:id/indicator", h.GetIndicator)
		api.GET("/sessions/:id/recommendation", h.GetRecommendation)
		api.GET("/sessions/:id/alerts", h.GetAlerts)
	}
}

func (h *QualityHandler) CreateSession(c *gin.Context) {
	var req struct {
		ID string `json:"id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError(fmt.Sprintf("invalid request body: %v", err)))
			return
		}
	}
	if req.ID == "" {
		req.ID = utils.GenerateSessionID()
	}
	if err := validation.ValidateSessionID(req.ID); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
		return
	}

	id := domain.SessionID(req.ID)
	engine, err := h.sessions.CreateSession(c.Request.Context(), id, nil)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    id,
		"level": engine.Level(),
	})
}

func (h *QualityHandler) ListSessions(c *gin.Context) {
	ids := h.sessions.ListSessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": ids,
		"count":    len(ids),
	})
}

func (h *QualityHandler) DeleteSession(c *gin.Context) {
	if err := h.sessions.RemoveSession(domain.SessionID(c.Param("id"))); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QualityHandler) SubmitSample(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}

	var sample domain.MetricSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.Error(fmt.Errorf("%w: %v", domain.ErrInvalidSample, err))
		return
	}

	report, err := engine.Update(c.Request.Context(), &sample)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *QualityHandler) ResetSession(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	engine.Reset()
	c.JSON(http.StatusOK, engine.Report())
}

func (h *QualityHandler) GetReport(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, engine.Report())
}

func (h *QualityHandler) GetScore(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"level": engine.Level(),
		"score": engine.Score(),
	})
}

// GetTrend returns the trend with the score history; ?limit=N keeps only
// the newest N entries.
func (h *QualityHandler) GetTrend(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	var query struct {
		Limit int `form:"limit" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(errors.NewInvalidInputError(fmt.Sprintf("invalid limit: %v", err)))
		return
	}

	history := engine.History()
	if query.Limit > 0 {
		history = engine.RecentHistory(query.Limit)
	}
	c.JSON(http.StatusOK, gin.H{
		"trend":   engine.Trend(),
		"history": history,
	})
}

func (h *QualityHandler) GetIndicator(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, engine.Indicator())
}

func (h *QualityHandler) GetRecommendation(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recommendation": engine.Recommendation(),
	})
}

func (h *QualityHandler) GetAlerts(c *gin.Context) {
	engine, ok := h.engine(c)
	if !ok {
		return
	}
	alerts := engine.Alerts()
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *QualityHandler) engine(c *gin.Context) (ports.QualityEngine, bool) {
	engine, err := h.sessions.GetSession(domain.SessionID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return engine, true
}

var _ ports.HTTPHandler = (*QualityHandler)(nil)
