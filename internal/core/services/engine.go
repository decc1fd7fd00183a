package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/pkg/tracing"
	"callpulse/pkg/utils"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultTickInterval = time.Second

// EngineConfig configures every analytical component of an Engine.
type EngineConfig struct {
	TickInterval    time.Duration
	HistorySize     int
	MinTrendEntries int
	Weights         ScoreWeights
	Thresholds      MetricThresholds
	AlertThresholds AlertThresholds
	AlertCapacity   int
	AlertCooldown   time.Duration
	Bandwidth       BandwidthConfig
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:    DefaultTickInterval,
		HistorySize:     DefaultHistorySize,
		MinTrendEntries: DefaultMinTrendEntries,
		Weights:         DefaultScoreWeights(),
		Thresholds:      DefaultMetricThresholds(),
		AlertThresholds: DefaultAlertThresholds(),
		AlertCapacity:   DefaultAlertCapacity,
		Bandwidth:       DefaultBandwidthConfig(),
	}
}

type EngineOption func(*Engine)

func WithLogger(logger *zap.SugaredLogger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithStatsProvider(provider ports.StatsProvider) EngineOption {
	return func(e *Engine) { e.provider = provider }
}

func WithSessionID(id domain.SessionID) EngineOption {
	return func(e *Engine) { e.sessionID = id }
}

// WithClock replaces time.Now for samples without a timestamp.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine monitors one connection. Update recomputes every derived value
// synchronously; Start drives Update from a StatsProvider on a timer.
type Engine struct {
	sessionID domain.SessionID
	cfg       EngineConfig
	provider  ports.StatsProvider
	logger    *zap.SugaredLogger
	now       func() time.Time

	classifier *Classifier
	scorer     *Scorer
	trends     *TrendAnalyzer
	alerts     *AlertEngine
	advisor    *BandwidthAdvisor

	mu             sync.RWMutex
	level          domain.QualityLevel
	score          *domain.QualityScore
	trend          *domain.QualityTrend
	indicator      domain.NetworkIndicator
	recommendation *domain.BandwidthRecommendation
	lastMeasured   *domain.MetricSample // newest sample that carried network metrics
	lastApplied    time.Time

	alertListeners  listenerList[domain.Alert]
	changeListeners listenerList[domain.QualityChange]
	updateListeners listenerList[domain.QualityReport]
	errorListeners  listenerList[error]
	// serializes Update so listeners observe reports in the order applied
	emitMu sync.Mutex

	running    atomic.Bool
	generation atomic.Uint64
	runMu      sync.Mutex
	cancel     context.CancelFunc
}

func NewEngine(cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	e := &Engine{
		cfg:        cfg,
		logger:     zap.NewNop().Sugar(),
		now:        time.Now,
		classifier: NewClassifier(cfg.Thresholds),
		scorer:     NewScorer(cfg.Weights, cfg.Thresholds),
		trends:     NewTrendAnalyzer(cfg.HistorySize, cfg.MinTrendEntries),
		alerts:     NewAlertEngine(cfg.AlertThresholds, cfg.AlertCapacity, cfg.AlertCooldown),
		advisor:    NewBandwidthAdvisor(cfg.Bandwidth, cfg.Thresholds),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("session_id", e.sessionID)
	e.resetState()
	return e
}

func (e *Engine) SessionID() domain.SessionID {
	return e.sessionID
}

// Update applies one sample and recomputes score, trend, alerts, indicator
// and recommendation. A sample older than the last applied one is rejected
// with domain.ErrStaleSample and leaves state untouched. Listeners run on
// the caller's goroutine and must not call Update.
func (e *Engine) Update(ctx context.Context, sample *domain.MetricSample) (*domain.QualityReport, error) {
	if sample == nil {
		return nil, domain.ErrInvalidSample
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	ctx, span := tracing.TraceEngine(ctx, "update", string(e.sessionID))
	defer span.End()

	s := sample.Clone()
	s.Sanitize()
	s.ConnectionType = utils.SanitizeString(s.ConnectionType)
	if s.Timestamp.IsZero() {
		s.Timestamp = e.now()
	}
	ts := s.Timestamp

	e.mu.Lock()
	if !e.lastApplied.IsZero() && ts.Before(e.lastApplied) {
		last := e.lastApplied
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: sample at %s, last applied %s",
			domain.ErrStaleSample, ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}

	previous := e.level
	level := previous
	if s.HasNetworkMetrics() {
		level = e.classifier.OverallLevel(s)
		e.lastMeasured = s
	}

	score := e.scorer.Score(s, ts)
	e.trends.Record(score.Overall, ts)
	trend := e.trends.Trend()
	raised := e.alerts.Evaluate(s, ts)
	rec := e.advisor.Recommend(s, ts)
	indicator := BuildIndicator(level, e.lastMeasured)
	if e.lastMeasured == nil {
		indicator = BuildIndicator(level, s)
	}

	e.level = level
	e.score = &score
	e.trend = trend
	e.recommendation = &rec
	e.indicator = indicator
	e.lastApplied = ts

	report := e.reportLocked()
	report.Alerts = raised
	e.mu.Unlock()

	tracing.AddSpanAttributes(ctx,
		tracing.ScoreKey.Float64(score.Overall),
		tracing.GradeKey.String(string(score.Grade)),
		tracing.QualityKey.String(string(level)),
		tracing.ActionKey.String(string(rec.Action)),
		tracing.AlertCountKey.Int(len(raised)),
	)

	for _, alert := range raised {
		e.logger.Warnw("quality alert",
			"type", alert.Type,
			"severity", alert.Severity,
			"value", alert.Value,
			"threshold", alert.Threshold,
		)
		e.alertListeners.emit(alert)
	}
	if previous != level {
		e.logger.Infow("quality level changed",
			"from", previous,
			"to", level,
			"score", score.Overall,
		)
		e.changeListeners.emit(domain.QualityChange{
			Previous:  previous,
			Current:   level,
			Score:     score.Overall,
			Timestamp: ts,
		})
	}
	e.updateListeners.emit(*report)

	return report, nil
}

// Tick pulls one snapshot from the provider and applies it. Snapshot
// failures skip the cycle, keep the last state and are reported to error
// listeners. A snapshot that completes after Stop is discarded.
func (e *Engine) Tick(ctx context.Context) error {
	if e.provider == nil {
		return domain.ErrNoProvider
	}
	ctx, span := tracing.TraceEngine(ctx, "tick", string(e.sessionID))
	defer span.End()

	gen := e.generation.Load()
	sample, err := e.provider.Snapshot(ctx)
	if gen != e.generation.Load() {
		return domain.ErrEngineStopped
	}
	if err == nil && sample == nil {
		err = errors.New("provider returned no sample")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrSnapshotFailed, err)
		tracing.RecordError(ctx, err)
		e.logger.Warnw("skipping quality cycle", "error", err)
		e.errorListeners.emit(err)
		return err
	}

	if _, err := e.Update(ctx, sample); err != nil {
		if errors.Is(err, domain.ErrStaleSample) {
			e.logger.Debugw("discarding stale sample", "error", err)
		}
		return err
	}
	return nil
}

// Start begins periodic ticking. It is a no-op when already running.
func (e *Engine) Start(ctx context.Context) error {
	if e.provider == nil {
		return domain.ErrNoProvider
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running.Store(true)

	e.logger.Infow("quality monitoring started", "interval", e.cfg.TickInterval)
	go e.run(runCtx, e.generation.Load())
	return nil
}

// run schedules the next tick only after the previous one finished, so
// ticks never overlap.
func (e *Engine) run(ctx context.Context, gen uint64) {
	timer := time.NewTimer(e.cfg.TickInterval)
	defer timer.Stop()
	defer e.exited(gen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := e.Tick(ctx); err != nil && errors.Is(err, domain.ErrEngineStopped) {
				return
			}
			timer.Reset(e.cfg.TickInterval)
		}
	}
}

// Stop halts ticking and aborts an in-flight snapshot. State is kept for
// inspection. It is a no-op when not running.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	e.generation.Inc()
	e.cancel()
	e.cancel = nil
	e.logger.Infow("quality monitoring stopped")
}

// exited marks the engine stopped when the loop of generation gen ends on
// its own, e.g. because the parent context was cancelled. A loop replaced by
// Stop or a later Start leaves the state alone.
func (e *Engine) exited(gen uint64) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running.Load() || e.generation.Load() != gen {
		return
	}
	e.running.Store(false)
	e.generation.Inc()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.logger.Infow("quality monitoring stopped", "reason", "context done")
}

func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Reset clears history, alerts and cached values back to defaults.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetState()
	e.mu.Unlock()
}

func (e *Engine) resetState() {
	e.trends.Reset()
	e.alerts.Reset()
	e.level = domain.QualityUnknown
	e.score = nil
	e.trend = nil
	e.recommendation = nil
	e.lastMeasured = nil
	e.lastApplied = time.Time{}
	e.indicator = BuildIndicator(domain.QualityUnknown, nil)
}

func (e *Engine) Level() domain.QualityLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.level
}

func (e *Engine) Score() *domain.QualityScore {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.score == nil {
		return nil
	}
	s := *e.score
	return &s
}

func (e *Engine) Trend() *domain.QualityTrend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.trend == nil {
		return nil
	}
	t := *e.trend
	return &t
}

func (e *Engine) Indicator() domain.NetworkIndicator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indicator
}

func (e *Engine) Recommendation() *domain.BandwidthRecommendation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.recommendation == nil {
		return nil
	}
	r := *e.recommendation
	r.Suggestions = append([]domain.AdaptationSuggestion(nil), e.recommendation.Suggestions...)
	return &r
}

func (e *Engine) Alerts() []domain.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alerts.Alerts()
}

func (e *Engine) History() []domain.HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trends.History()
}

func (e *Engine) RecentHistory(n int) []domain.HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trends.Recent(n)
}

// Report returns the current derived state.
func (e *Engine) Report() domain.QualityReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.reportLocked()
}

func (e *Engine) reportLocked() *domain.QualityReport {
	report := &domain.QualityReport{
		Level:     e.level,
		Indicator: e.indicator,
	}
	if e.score != nil {
		s := *e.score
		report.Score = &s
	}
	if e.trend != nil {
		t := *e.trend
		report.Trend = &t
	}
	if e.recommendation != nil {
		r := *e.recommendation
		report.Recommendation = &r
	}
	return report
}

func (e *Engine) OnAlert(fn func(domain.Alert)) func() {
	return e.alertListeners.add(fn)
}

func (e *Engine) OnQualityChange(fn func(domain.QualityChange)) func() {
	return e.changeListeners.add(fn)
}

func (e *Engine) OnUpdate(fn func(domain.QualityReport)) func() {
	return e.updateListeners.add(fn)
}

// OnError subscribes to snapshot failures.
func (e *Engine) OnError(fn func(error)) func() {
	return e.errorListeners.add(fn)
}

var _ ports.QualityEngine = (*Engine)(nil)
