package services

import (
	"fmt"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/pkg/utils"

	"github.com/gammazero/deque"
	"golang.org/x/time/rate"
)

const DefaultAlertCapacity = 50

// AlertThresholds are the warning/critical levels per metric. MOS alerts fire
// when the value drops below its thresholds.
type AlertThresholds struct {
	PacketLoss domain.AlertThreshold
	Jitter     domain.AlertThreshold
	RTT        domain.AlertThreshold
	MOS        domain.AlertThreshold
}

func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		PacketLoss: domain.AlertThreshold{Warning: 3, Critical: 8},
		Jitter:     domain.AlertThreshold{Warning: 50, Critical: 100},
		RTT:        domain.AlertThreshold{Warning: 300, Critical: 500},
		MOS:        domain.AlertThreshold{Warning: 3.5, Critical: 2.5},
	}
}

// AlertEngine evaluates samples against two-tier thresholds and keeps a
// bounded history of raised alerts. It is not safe for concurrent use; the
// owning Engine serializes access.
type AlertEngine struct {
	thresholds AlertThresholds
	capacity   int
	alerts     *deque.Deque[domain.Alert]

	// zero cooldown disables limiting
	cooldown time.Duration
	limiters map[string]*rate.Limiter

	newID func() string
}

func NewAlertEngine(thresholds AlertThresholds, capacity int, cooldown time.Duration) *AlertEngine {
	if capacity < 1 {
		capacity = DefaultAlertCapacity
	}
	return &AlertEngine{
		thresholds: thresholds,
		capacity:   capacity,
		alerts:     deque.New[domain.Alert](capacity),
		cooldown:   cooldown,
		limiters:   make(map[string]*rate.Limiter),
		newID:      utils.GenerateAlertID,
	}
}

// Evaluate checks each metric independently and returns the alerts raised
// for this sample, at most one per metric.
func (a *AlertEngine) Evaluate(sample *domain.MetricSample, now time.Time) []domain.Alert {
	var raised []domain.Alert

	if sample.PacketLoss != nil {
		raised = a.check(raised, domain.AlertPacketLoss, "Packet loss", "%", *sample.PacketLoss, a.thresholds.PacketLoss, false, now)
	}
	if sample.Jitter != nil {
		raised = a.check(raised, domain.AlertJitter, "Jitter", "ms", *sample.Jitter, a.thresholds.Jitter, false, now)
	}
	if sample.RTT != nil {
		raised = a.check(raised, domain.AlertRTT, "Round-trip time", "ms", *sample.RTT, a.thresholds.RTT, false, now)
	}
	if mos, ok := effectiveMOS(sample); ok {
		raised = a.check(raised, domain.AlertMOS, "MOS", "", mos, a.thresholds.MOS, true, now)
	}

	for _, alert := range raised {
		a.alerts.PushBack(alert)
		for a.alerts.Len() > a.capacity {
			a.alerts.PopFront()
		}
	}
	return raised
}

func (a *AlertEngine) check(
	raised []domain.Alert,
	alertType domain.AlertType,
	name, unit string,
	value float64,
	threshold domain.AlertThreshold,
	lowerIsWorse bool,
	now time.Time,
) []domain.Alert {
	severity, crossed, ok := severityFor(value, threshold, lowerIsWorse)
	if !ok || !a.allow(alertType, severity, now) {
		return raised
	}

	verb := "exceeds"
	if lowerIsWorse {
		verb = "is below"
	}
	return append(raised, domain.Alert{
		ID:        a.newID(),
		Type:      alertType,
		Severity:  severity,
		Message:   fmt.Sprintf("%s %.1f%s %s %s threshold %.1f%s", name, value, unit, verb, severity, crossed, unit),
		Value:     value,
		Threshold: crossed,
		Timestamp: now,
	})
}

// severityFor picks the single highest severity crossed by value.
func severityFor(value float64, t domain.AlertThreshold, lowerIsWorse bool) (domain.Severity, float64, bool) {
	if lowerIsWorse {
		switch {
		case value < t.Critical:
			return domain.SeverityCritical, t.Critical, true
		case value < t.Warning:
			return domain.SeverityWarning, t.Warning, true
		}
		return "", 0, false
	}
	switch {
	case value >= t.Critical:
		return domain.SeverityCritical, t.Critical, true
	case value >= t.Warning:
		return domain.SeverityWarning, t.Warning, true
	}
	return "", 0, false
}

func (a *AlertEngine) allow(alertType domain.AlertType, severity domain.Severity, now time.Time) bool {
	if a.cooldown <= 0 {
		return true
	}
	key := string(alertType) + ":" + string(severity)
	limiter, ok := a.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(a.cooldown), 1)
		a.limiters[key] = limiter
	}
	return limiter.AllowN(now, 1)
}

// Alerts returns the retained alerts, oldest first.
func (a *AlertEngine) Alerts() []domain.Alert {
	out := make([]domain.Alert, a.alerts.Len())
	for i := range out {
		out[i] = a.alerts.At(i)
	}
	return out
}

func (a *AlertEngine) Reset() {
	a.alerts.Clear()
	a.limiters = make(map[string]*rate.Limiter)
}
