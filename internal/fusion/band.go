package fusion

import (
	"math"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Band thresholds. Lower bounds are inclusive: exactly 80 is Critical.
const (
	CriticalThreshold = 80.0
	HighThreshold     = 60.0
	MediumThreshold   = 40.0
)

// Classify maps a 0-100 risk score onto its band.
func Classify(score float64) models.Band {
	switch {
	case score >= CriticalThreshold:
		return models.BandCritical
	case score >= HighThreshold:
		return models.BandHigh
	case score >= MediumThreshold:
		return models.BandMedium
	default:
		return models.BandLow
	}
}

// DisplayScore rounds a score to 4 decimals for responses. Rounding never
// moves a score across a band boundary: 79.99996 shows as 79.9999, not 80.
func DisplayScore(score float64) float64 {
	r := math.Round(score*1e4) / 1e4
	if Classify(r) != Classify(score) {
		r = math.Floor(score*1e4) / 1e4
	}
	return r
}

// RecommendedAction maps a band to the analyst action shown alongside it.
func RecommendedAction(b models.Band) string {
	switch b {
	case models.BandCritical:
		return "Block and escalate to compliance"
	case models.BandHigh:
		return "Hold for manual review"
	case models.BandMedium:
		return "Review transaction"
	default:
		return "No action required"
	}
}
