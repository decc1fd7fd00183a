package ports

import (
	"context"

	"callpulse/internal/core/domain"
)

// StatsProvider acquires one statistics snapshot from the underlying
// connection. It is the only blocking call of an engine cycle.
type StatsProvider interface {
	Snapshot(ctx context.Context) (*domain.MetricSample, error)
}

// StatsProviderFunc adapts a function to StatsProvider.
type StatsProviderFunc func(ctx context.Context) (*domain.MetricSample, error)

func (f StatsProviderFunc) Snapshot(ctx context.Context) (*domain.MetricSample, error) {
	return f(ctx)
}

// EventPublisher fans engine events out to other instances or consumers.
type EventPublisher interface {
	PublishAlert(ctx context.Context, sessionID domain.SessionID, alert domain.Alert) error
	PublishQualityChange(ctx context.Context, sessionID domain.SessionID, change domain.QualityChange) error
}
