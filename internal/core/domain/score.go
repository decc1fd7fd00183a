package domain

import "time"

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps an overall score to its letter grade. The score is not
// rounded first, so 89.99 is a B.
func GradeFor(overall float64) Grade {
	switch {
	case overall >= 90:
		return GradeA
	case overall >= 75:
		return GradeB
	case overall >= 60:
		return GradeC
	case overall >= 40:
		return GradeD
	default:
		return GradeF
	}
}

type QualityScore struct {
	Overall     float64   `json:"overall"`
	Audio       float64   `json:"audio"`
	Video       *float64  `json:"video,omitempty"` // nil for audio-only calls or when no video metrics exist
	Network     float64   `json:"network"`
	MOS         *float64  `json:"mos,omitempty"` // measured, else estimated; nil without inputs
	Grade       Grade     `json:"grade"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

type QualityTrend struct {
	Direction  TrendDirection `json:"direction"`
	Rate       float64        `json:"rate"` // score units per sample
	Confidence float64        `json:"confidence"`
	Samples    int            `json:"samples"`
}

type HistoryEntry struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// QualityReport is the full derived state of one engine after a recompute.
type QualityReport struct {
	Level          QualityLevel             `json:"level"`
	Score          *QualityScore            `json:"score,omitempty"`
	Trend          *QualityTrend            `json:"trend,omitempty"`
	Indicator      NetworkIndicator         `json:"indicator"`
	Recommendation *BandwidthRecommendation `json:"recommendation,omitempty"`
	Alerts         []Alert                  `json:"alerts,omitempty"` // alerts raised by this update only
}
