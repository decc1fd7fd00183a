package http

import (
	"net/http"
	"time"

	"callpulse/internal/core/ports"
	"callpulse/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker  *monitoring.HealthChecker
	sessions ports.SessionService
	gatherer prometheus.Gatherer
	started  time.Time
}

// NewHealthHandler serves probes and, when gatherer is non-nil, /metrics.
func NewHealthHandler(checker *monitoring.HealthChecker, sessions ports.SessionService, gatherer prometheus.Gatherer) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		sessions: sessions,
		gatherer: gatherer,
		started:  time.Now(),
	}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is the liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         monitoring.StatusHealthy,
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"sessions":       len(h.sessions.ListSessions()),
	})
}

// Ready runs the registered checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
