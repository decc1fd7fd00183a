package domain

import "time"

type AdaptationAction string

const (
	ActionMaintain  AdaptationAction = "maintain"
	ActionUpgrade   AdaptationAction = "upgrade"
	ActionDowngrade AdaptationAction = "downgrade"
	ActionCritical  AdaptationAction = "critical"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type SuggestionType string

const (
	SuggestDisableVideo       SuggestionType = "disable_video"
	SuggestReduceResolution   SuggestionType = "reduce_resolution"
	SuggestReduceFramerate    SuggestionType = "reduce_framerate"
	SuggestReduceAudioBitrate SuggestionType = "reduce_audio_bitrate"
	SuggestIncreaseResolution SuggestionType = "increase_resolution"
)

// AdaptationSuggestion is one concrete change the caller may apply.
// Values are expressed in Unit (bps, fps, height in pixels, or "enabled" as 1/0).
type AdaptationSuggestion struct {
	Type        SuggestionType `json:"type"`
	Message     string         `json:"message"`
	Current     float64        `json:"current"`
	Recommended float64        `json:"recommended"`
	Unit        string         `json:"unit"`
	Impact      float64        `json:"impact"`
}

type BandwidthRecommendation struct {
	Action               AdaptationAction       `json:"action"`
	Suggestions          []AdaptationSuggestion `json:"suggestions"`
	Priority             Priority               `json:"priority"`
	Severity             float64                `json:"severity"`
	EstimatedImprovement float64                `json:"estimated_improvement"`
	Timestamp            time.Time              `json:"timestamp"`
}
