package ports

import (
	"context"

	"callpulse/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	CreateSession(c *gin.Context)
	DeleteSession(c *gin.Context)
	SubmitSample(c *gin.Context)
	GetScore(c *gin.Context)
	GetTrend(c *gin.Context)
	GetIndicator(c *gin.Context)
	GetRecommendation(c *gin.Context)
	GetAlerts(c *gin.Context)
	ResetSession(c *gin.Context)
}

type WebSocketHandler interface {
	HandleMessage(ctx context.Context, sessionID domain.SessionID, message []byte) error
	HandleDisconnect(ctx context.Context, sessionID domain.SessionID) error
}
