package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

// WeightTolerance is how far composite weights may drift from summing to 1.
const WeightTolerance = 0.01

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// ValidateSessionID validates a session ID
func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 128 {
		return fmt.Errorf("session ID is too long (max 128 characters)")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateWeights checks that every weight is a finite non-negative number
// and that together they sum to 1 within WeightTolerance.
func ValidateWeights(weights map[string]float64) error {
	var sum float64
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("weight %s must be a non-negative number, got %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("weights must sum to 1.0 (±%.2f), got %.3f", WeightTolerance, sum)
	}
	return nil
}

// ValidateBands checks the four classification boundaries
// [excellent, good, fair, poor]. Lower-is-better metrics need ascending
// boundaries, higher-is-better metrics descending ones.
func ValidateBands(field string, bands [4]float64, higherIsBetter bool) error {
	for i, b := range bands {
		if math.IsNaN(b) || b < 0 {
			return fmt.Errorf("%s thresholds must be non-negative", field)
		}
		if i == 0 {
			continue
		}
		if higherIsBetter && b > bands[i-1] {
			return fmt.Errorf("%s thresholds must be non-increasing, got %v", field, bands)
		}
		if !higherIsBetter && b < bands[i-1] {
			return fmt.Errorf("%s thresholds must be non-decreasing, got %v", field, bands)
		}
	}
	return nil
}

// ValidateAlertThreshold checks a warning/critical pair.
func ValidateAlertThreshold(field string, warning, critical float64, higherIsBetter bool) error {
	if warning < 0 || critical < 0 {
		return fmt.Errorf("%s alert thresholds must be non-negative", field)
	}
	if higherIsBetter && critical > warning {
		return fmt.Errorf("%s critical threshold must not exceed warning for a higher-is-better metric", field)
	}
	if !higherIsBetter && critical < warning {
		return fmt.Errorf("%s critical threshold must not be below warning", field)
	}
	return nil
}

// ValidateRange validates that v lies in [min, max].
func ValidateRange(field string, v, min, max float64) error {
	if math.IsNaN(v) || v < min || v > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", field, min, max, v)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
