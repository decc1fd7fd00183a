package domain

import "time"

type AlertType string

const (
	AlertPacketLoss AlertType = "packet_loss"
	AlertJitter     AlertType = "jitter"
	AlertRTT        AlertType = "rtt"
	AlertMOS        AlertType = "mos"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertThreshold is a two-tier threshold. For MOS the comparison is
// inverted: values below the threshold trigger.
type AlertThreshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// QualityChange is emitted when the overall quality level moves.
type QualityChange struct {
	Previous  QualityLevel `json:"previous"`
	Current   QualityLevel `json:"current"`
	Score     float64      `json:"score"`
	Timestamp time.Time    `json:"timestamp"`
}
