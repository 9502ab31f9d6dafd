package fusion

import "math"

// Normalizer maps a raw Isolation Forest score into [0,1]. Implementations
// are monotonic non-decreasing and carry constants fit offline.
type Normalizer interface {
	Normalize(raw float64) float64
	// Inverse maps a normalized value back to a raw score that normalizes to it.
	Inverse(norm float64) float64
}

// MinMax scales linearly between the dataset's observed extremes.
// Values outside the fitted range are clamped.
type MinMax struct {
	Min float64
	Max float64
}

func (m MinMax) Normalize(raw float64) float64 {
	span := m.Max - m.Min
	if span <= 0 {
		if raw >= m.Max {
			return 1
		}
		return 0
	}
	return clamp01((raw - m.Min) / span)
}

func (m MinMax) Inverse(norm float64) float64 {
	return m.Min + clamp01(norm)*(m.Max-m.Min)
}

// Sigmoid squashes raw scores around a fixed midpoint.
type Sigmoid struct {
	Midpoint float64
	Scale    float64 // > 0
}

func (s Sigmoid) Normalize(raw float64) float64 {
	return 1 / (1 + math.Exp(-(raw-s.Midpoint)/s.Scale))
}

func (s Sigmoid) Inverse(norm float64) float64 {
	// Keep the logit finite at the edges of [0,1].
	const eps = 1e-12
	p := math.Min(math.Max(norm, eps), 1-eps)
	return s.Midpoint + s.Scale*math.Log(p/(1-p))
}

// FitMinMax derives MinMax constants from observed raw scores.
func FitMinMax(raw []float64) MinMax {
	if len(raw) == 0 {
		return MinMax{Min: 0, Max: 1}
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return MinMax{Min: lo, Max: hi}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
