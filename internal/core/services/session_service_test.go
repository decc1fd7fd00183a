package services

import (
	"context"
	"testing"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(t *testing.T, capacity int) *SessionService {
	t.Helper()
	svc, err := NewSessionService(DefaultEngineConfig(), capacity, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Clear)
	return svc
}

func TestSessionService_CreateAndGet(t *testing.T) {
	svc := newTestSessionService(t, 10)

	engine, err := svc.CreateSession(context.Background(), "call-1", nil)
	require.NoError(t, err)
	assert.False(t, engine.IsRunning(), "no provider means no polling")

	got, err := svc.GetSession("call-1")
	require.NoError(t, err)
	assert.Same(t, engine, got)

	_, err = svc.CreateSession(context.Background(), "call-1", nil)
	assert.ErrorIs(t, err, domain.ErrSessionExists)

	_, err = svc.CreateSession(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSample)

	_, err = svc.GetSession("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_SessionsAreIndependent(t *testing.T) {
	svc := newTestSessionService(t, 10)

	a, err := svc.CreateSession(context.Background(), "a", nil)
	require.NoError(t, err)
	b, err := svc.CreateSession(context.Background(), "b", nil)
	require.NoError(t, err)

	_, err = a.Update(context.Background(), degradedSample(baseTime))
	require.NoError(t, err)

	assert.Equal(t, domain.QualityCritical, a.Level())
	assert.Equal(t, domain.QualityUnknown, b.Level())
	assert.ElementsMatch(t, []domain.SessionID{"a", "b"}, svc.ListSessions())
}

func TestSessionService_ProviderStartsPolling(t *testing.T) {
	svc := newTestSessionService(t, 10)
	provider := ports.StatsProviderFunc(func(ctx context.Context) (*domain.MetricSample, error) {
		return healthySample(time.Now()), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	engine, err := svc.CreateSession(ctx, "polled", provider)
	require.NoError(t, err)
	cancel()

	assert.True(t, engine.IsRunning(), "engine outlives the creating context")

	require.NoError(t, svc.RemoveSession("polled"))
	assert.False(t, engine.IsRunning())
}

func TestSessionService_Remove(t *testing.T) {
	svc := newTestSessionService(t, 10)

	var closed []domain.SessionID
	svc.OnSessionClosed(func(id domain.SessionID, _ ports.QualityEngine) {
		closed = append(closed, id)
	})

	_, err := svc.CreateSession(context.Background(), "call-1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveSession("call-1"))
	assert.ErrorIs(t, svc.RemoveSession("call-1"), domain.ErrSessionNotFound)
	assert.Equal(t, []domain.SessionID{"call-1"}, closed)

	stats := svc.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(0), stats.Evicted)
}

func TestSessionService_EvictsLeastRecentlyUsed(t *testing.T) {
	svc := newTestSessionService(t, 2)
	provider := ports.StatsProviderFunc(func(ctx context.Context) (*domain.MetricSample, error) {
		return healthySample(time.Now()), nil
	})

	first, err := svc.CreateSession(context.Background(), "first", provider)
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), "second", nil)
	require.NoError(t, err)

	// touch second so first is the oldest
	_, err = svc.GetSession("second")
	require.NoError(t, err)

	_, err = svc.CreateSession(context.Background(), "third", nil)
	require.NoError(t, err)

	_, err = svc.GetSession("first")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.False(t, first.IsRunning(), "evicted engine is stopped")

	stats := svc.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, int64(3), stats.Created)
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestSessionService_CreatedHooks(t *testing.T) {
	svc := newTestSessionService(t, 10)

	var alerts []domain.Alert
	svc.OnSessionCreated(func(id domain.SessionID, engine ports.QualityEngine) {
		engine.OnAlert(func(a domain.Alert) { alerts = append(alerts, a) })
	})

	engine, err := svc.CreateSession(context.Background(), "hooked", nil)
	require.NoError(t, err)

	_, err = engine.Update(context.Background(), degradedSample(baseTime))
	require.NoError(t, err)
	assert.NotEmpty(t, alerts)
}

func TestSessionService_Clear(t *testing.T) {
	svc := newTestSessionService(t, 10)

	var closed int
	svc.OnSessionClosed(func(domain.SessionID, ports.QualityEngine) { closed++ })

	for _, id := range []domain.SessionID{"a", "b", "c"} {
		_, err := svc.CreateSession(context.Background(), id, nil)
		require.NoError(t, err)
	}

	svc.Clear()

	assert.Empty(t, svc.ListSessions())
	assert.Equal(t, 3, closed)
	assert.Equal(t, int64(0), svc.Stats().Evicted)
}
