package services

import (
	"context"
	"fmt"
	"sync"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultMaxSessions = 1000

// SessionHook observes session lifecycle, e.g. to attach metrics or event
// publishing to a new engine.
type SessionHook func(id domain.SessionID, engine ports.QualityEngine)

type SessionStats struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
}

// SessionService is a bounded store of engines keyed by session. When full,
// the least recently used session is evicted and its engine stopped.
type SessionService struct {
	cfg    EngineConfig
	logger *zap.SugaredLogger

	sessions *lru.Cache[domain.SessionID, *Engine]
	createMu sync.Mutex

	// explicit removals, so onEvicted can tell them from capacity evictions
	mu       sync.Mutex
	removing map[domain.SessionID]bool
	clearing bool

	hooksMu      sync.RWMutex
	createdHooks []SessionHook
	closedHooks  []SessionHook

	created atomic.Int64
	evicted atomic.Int64
}

func NewSessionService(cfg EngineConfig, maxSessions int, logger *zap.SugaredLogger) (*SessionService, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SessionService{
		cfg:      cfg,
		logger:   logger,
		removing: make(map[domain.SessionID]bool),
	}
	cache, err := lru.NewWithEvict[domain.SessionID, *Engine](maxSessions, s.onEvicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	s.sessions = cache
	return s, nil
}

// OnSessionCreated registers a hook run for every new session before it starts.
func (s *SessionService) OnSessionCreated(hook SessionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.createdHooks = append(s.createdHooks, hook)
}

// OnSessionClosed registers a hook run when a session is removed or evicted.
func (s *SessionService) OnSessionClosed(hook SessionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.closedHooks = append(s.closedHooks, hook)
}

// CreateSession creates an engine for id. With a provider the engine starts
// ticking immediately; without one it is driven by Update calls only.
func (s *SessionService) CreateSession(ctx context.Context, id domain.SessionID, provider ports.StatsProvider) (ports.QualityEngine, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", domain.ErrInvalidSample)
	}

	s.createMu.Lock()
	if s.sessions.Contains(id) {
		s.createMu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExists, id)
	}
	engine := NewEngine(s.cfg,
		WithSessionID(id),
		WithStatsProvider(provider),
		WithLogger(s.logger),
	)
	s.hooksMu.RLock()
	hooks := append([]SessionHook(nil), s.createdHooks...)
	s.hooksMu.RUnlock()
	s.runHooks(hooks, id, engine)
	s.sessions.Add(id, engine)
	s.createMu.Unlock()

	s.created.Inc()
	s.logger.Infow("session created", "session_id", id, "polling", provider != nil)

	if provider != nil {
		// engine outlives the request that created it
		if err := engine.Start(context.WithoutCancel(ctx)); err != nil {
			s.RemoveSession(id)
			return nil, err
		}
	}
	return engine, nil
}

func (s *SessionService) GetSession(id domain.SessionID) (ports.QualityEngine, error) {
	engine, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return engine, nil
}

func (s *SessionService) RemoveSession(id domain.SessionID) error {
	s.mu.Lock()
	s.removing[id] = true
	s.mu.Unlock()

	present := s.sessions.Remove(id)

	s.mu.Lock()
	delete(s.removing, id)
	s.mu.Unlock()

	if !present {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

func (s *SessionService) ListSessions() []domain.SessionID {
	return s.sessions.Keys()
}

// Clear stops and drops every session.
func (s *SessionService) Clear() {
	s.mu.Lock()
	s.clearing = true
	s.mu.Unlock()

	s.sessions.Purge()

	s.mu.Lock()
	s.clearing = false
	s.mu.Unlock()
}

func (s *SessionService) Stats() SessionStats {
	return SessionStats{
		Active:  s.sessions.Len(),
		Created: s.created.Load(),
		Evicted: s.evicted.Load(),
	}
}

// onEvicted runs for removals, purges and capacity evictions alike.
func (s *SessionService) onEvicted(id domain.SessionID, engine *Engine) {
	engine.Stop()

	s.mu.Lock()
	explicit := s.removing[id] || s.clearing
	s.mu.Unlock()
	if !explicit {
		s.evicted.Inc()
	}
	s.logger.Infow("session closed", "session_id", id, "evicted", !explicit)

	s.hooksMu.RLock()
	hooks := append([]SessionHook(nil), s.closedHooks...)
	s.hooksMu.RUnlock()
	s.runHooks(hooks, id, engine)
}

func (s *SessionService) runHooks(hooks []SessionHook, id domain.SessionID, engine *Engine) {
	for _, hook := range hooks {
		hook(id, engine)
	}
}

var _ ports.SessionService = (*SessionService)(nil)
