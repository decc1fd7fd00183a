package utils

import (
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
)

// FormatBitrate renders a bits-per-second value with an SI prefix, e.g. "1.5 Mbps".
func FormatBitrate(bps float64) string {
	if bps <= 0 {
		return "0 bps"
	}
	return humanize.SIWithDigits(bps, 1, "bps")
}

// SanitizeString strips control characters and surrounding whitespace
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
