package ports

import (
	"context"

	"callpulse/internal/core/domain"
)

type QualityEngine interface {
	Update(ctx context.Context, sample *domain.MetricSample) (*domain.QualityReport, error)
	Tick(ctx context.Context) error
	Start(ctx context.Context) error
	Stop()
	Reset()
	IsRunning() bool

	Level() domain.QualityLevel
	Score() *domain.QualityScore
	Trend() *domain.QualityTrend
	Indicator() domain.NetworkIndicator
	Recommendation() *domain.BandwidthRecommendation
	Alerts() []domain.Alert
	History() []domain.HistoryEntry
	RecentHistory(n int) []domain.HistoryEntry
	Report() domain.QualityReport

	OnAlert(fn func(domain.Alert)) (unsubscribe func())
	OnQualityChange(fn func(domain.QualityChange)) (unsubscribe func())
	OnUpdate(fn func(domain.QualityReport)) (unsubscribe func())
	OnError(fn func(error)) (unsubscribe func())
}

type SessionService interface {
	CreateSession(ctx context.Context, id domain.SessionID, provider StatsProvider) (QualityEngine, error)
	GetSession(id domain.SessionID) (QualityEngine, error)
	RemoveSession(id domain.SessionID) error
	ListSessions() []domain.SessionID
	Clear()
}
