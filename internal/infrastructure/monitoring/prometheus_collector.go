package monitoring

import (
	"errors"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Score kinds exported under callpulse_quality_score.
const (
	kindOverall = "overall"
	kindAudio   = "audio"
	kindVideo   = "video"
	kindNetwork = "network"
)

type PrometheusCollector struct {
	sessionLabels bool

	sessionsActive   prometheus.Gauge
	samplesTotal     prometheus.Counter
	snapshotFailures prometheus.Counter
	staleSamples     prometheus.Counter

	alertsTotal         *prometheus.CounterVec
	qualityChangesTotal *prometheus.CounterVec
	overallScore        prometheus.Histogram

	// per-session series, only when sessionLabels is set
	qualityScore      *prometheus.GaugeVec
	mos               *prometheus.GaugeVec
	bandwidthSeverity *prometheus.GaugeVec
}

// NewPrometheusCollector registers the collector's metrics with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusCollector(reg prometheus.Registerer, sessionLabels bool) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		sessionLabels: sessionLabels,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callpulse_sessions_active",
			Help: "Number of monitored sessions",
		}),

		samplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callpulse_samples_total",
			Help: "Total number of samples applied across sessions",
		}),

		snapshotFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "callpulse_snapshot_failures_total",
			Help: "Total number of failed statistics snapshots",
		}),

		staleSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "callpulse_stale_samples_total",
			Help: "Total number of samples rejected as older than the last applied one",
		}),

		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callpulse_alerts_total",
			Help: "Total number of quality alerts raised",
		}, []string{"type", "severity"}),

		qualityChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callpulse_quality_changes_total",
			Help: "Total number of quality level transitions",
		}, []string{"from", "to"}),

		overallScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callpulse_overall_score",
			Help:    "Distribution of overall quality scores (0-100)",
			Buckets: []float64{20, 40, 60, 75, 90, 100},
		}),

		qualityScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callpulse_quality_score",
			Help: "Latest quality score of a session (0-100)",
		}, []string{"session_id", "kind"}),

		mos: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callpulse_mos",
			Help: "Latest measured or estimated MOS of a session (1-5)",
		}, []string{"session_id"}),

		bandwidthSeverity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callpulse_bandwidth_severity",
			Help: "Latest bandwidth pressure of a session (0-1)",
		}, []string{"session_id"}),
	}
}

// Attach subscribes the collector to an engine's events. It matches
// services.SessionHook so it can be registered on session creation.
func (p *PrometheusCollector) Attach(id domain.SessionID, engine ports.QualityEngine) {
	p.sessionsActive.Inc()

	engine.OnUpdate(func(report domain.QualityReport) {
		p.RecordReport(id, report)
	})
	engine.OnAlert(func(alert domain.Alert) {
		p.alertsTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	})
	engine.OnQualityChange(func(change domain.QualityChange) {
		p.qualityChangesTotal.WithLabelValues(string(change.Previous), string(change.Current)).Inc()
	})
	engine.OnError(p.RecordError)
}

// Detach drops the session's series. It matches services.SessionHook.
func (p *PrometheusCollector) Detach(id domain.SessionID, _ ports.QualityEngine) {
	p.sessionsActive.Dec()
	if !p.sessionLabels {
		return
	}
	for _, kind := range []string{kindOverall, kindAudio, kindVideo, kindNetwork} {
		p.qualityScore.DeleteLabelValues(string(id), kind)
	}
	p.mos.DeleteLabelValues(string(id))
	p.bandwidthSeverity.DeleteLabelValues(string(id))
}

func (p *PrometheusCollector) RecordReport(id domain.SessionID, report domain.QualityReport) {
	p.samplesTotal.Inc()
	if report.Score == nil {
		return
	}
	p.overallScore.Observe(report.Score.Overall)

	if !p.sessionLabels {
		return
	}
	sid := string(id)
	p.qualityScore.WithLabelValues(sid, kindOverall).Set(report.Score.Overall)
	p.qualityScore.WithLabelValues(sid, kindAudio).Set(report.Score.Audio)
	p.qualityScore.WithLabelValues(sid, kindNetwork).Set(report.Score.Network)
	if report.Score.Video != nil {
		p.qualityScore.WithLabelValues(sid, kindVideo).Set(*report.Score.Video)
	} else {
		p.qualityScore.DeleteLabelValues(sid, kindVideo)
	}
	if report.Score.MOS != nil {
		p.mos.WithLabelValues(sid).Set(*report.Score.MOS)
	}
	if report.Recommendation != nil {
		p.bandwidthSeverity.WithLabelValues(sid).Set(report.Recommendation.Severity)
	}
}

func (p *PrometheusCollector) RecordError(err error) {
	switch {
	case errors.Is(err, domain.ErrSnapshotFailed):
		p.snapshotFailures.Inc()
	case errors.Is(err, domain.ErrStaleSample):
		p.staleSamples.Inc()
	}
}
