package services

import (
	"math"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/pkg/ringbuffer"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultHistorySize     = 10
	DefaultMinTrendEntries = 3

	trendThreshold        = 0.5
	sparseTrendConfidence = 0.3
)

// TrendAnalyzer keeps a bounded score history and fits a trend to it.
type TrendAnalyzer struct {
	history    *ringbuffer.Buffer[domain.HistoryEntry]
	minEntries int
}

func NewTrendAnalyzer(historySize, minEntries int) *TrendAnalyzer {
	if historySize < 2 {
		historySize = DefaultHistorySize
	}
	if minEntries < 2 {
		minEntries = DefaultMinTrendEntries
	}
	return &TrendAnalyzer{
		history:    ringbuffer.New[domain.HistoryEntry](historySize),
		minEntries: minEntries,
	}
}

func (t *TrendAnalyzer) Record(score float64, ts time.Time) {
	t.history.Push(domain.HistoryEntry{Score: score, Timestamp: ts})
}

func (t *TrendAnalyzer) History() []domain.HistoryEntry {
	return t.history.Items()
}

// Recent returns up to n of the newest entries, oldest first.
func (t *TrendAnalyzer) Recent(n int) []domain.HistoryEntry {
	return t.history.Recent(n)
}

func (t *TrendAnalyzer) Reset() {
	t.history.Clear()
}

// Trend returns nil until at least two scores have been recorded.
func (t *TrendAnalyzer) Trend() *domain.QualityTrend {
	entries := t.history.Items()
	scores := make([]float64, len(entries))
	for i, e := range entries {
		scores[i] = e.Score
	}
	return AnalyzeTrend(scores, t.minEntries)
}

// AnalyzeTrend fits a trend to scores ordered oldest first. Below minEntries
// points the slope is taken between the first and last score with a fixed
// low confidence; otherwise an ordinary least squares fit is used and
// confidence is R² scaled by the sample count.
func AnalyzeTrend(scores []float64, minEntries int) *domain.QualityTrend {
	n := len(scores)
	if n < 2 {
		return nil
	}

	var slope, confidence float64
	if n < minEntries {
		slope = (scores[n-1] - scores[0]) / float64(n-1)
		confidence = sparseTrendConfidence
	} else {
		var r2 float64
		slope, r2 = fitLine(scores)
		confidence = clamp(r2*float64(n)/10, 0, 1)
	}

	if math.IsNaN(slope) || math.IsInf(slope, 0) || math.IsNaN(confidence) {
		return &domain.QualityTrend{Direction: domain.TrendStable, Samples: n}
	}

	return &domain.QualityTrend{
		Direction:  directionOf(slope),
		Rate:       slope,
		Confidence: confidence,
		Samples:    n,
	}
}

// fitLine regresses scores on their index. Constant input is a perfect fit
// with zero slope.
func fitLine(scores []float64) (slope, r2 float64) {
	if stat.Variance(scores, nil) == 0 {
		return 0, 1
	}
	xs := make([]float64, len(scores))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, scores, nil, false)
	return beta, stat.RSquared(xs, scores, nil, alpha, beta)
}

func directionOf(slope float64) domain.TrendDirection {
	switch {
	case slope > trendThreshold:
		return domain.TrendImproving
	case slope < -trendThreshold:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}
