package domain

type IndicatorDetails struct {
	RTT            *float64 `json:"rtt,omitempty"`
	Jitter         *float64 `json:"jitter,omitempty"`
	PacketLoss     *float64 `json:"packet_loss,omitempty"`
	Bandwidth      *float64 `json:"bandwidth,omitempty"`
	ConnectionType string   `json:"connection_type,omitempty"`
}

// NetworkIndicator is the UI-facing summary of connection health.
type NetworkIndicator struct {
	Level       QualityLevel     `json:"level"`
	Bars        int              `json:"bars"`
	Color       string           `json:"color"`
	Icon        string           `json:"icon"`
	Label       string           `json:"label"`
	Details     IndicatorDetails `json:"details"`
	IsAvailable bool             `json:"is_available"`
}
