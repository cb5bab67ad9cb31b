// Package confidence holds the single 0-100 match-quality scale used by every
// stage of the upload pipeline.
package confidence

import "math"

// Level buckets a confidence score.
type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelVeryLow Level = "very_low"
)

// Thresholds on the 0-100 scale.
const (
	High   = 90.0 // auto-map
	Medium = 70.0 // needs review below this
	Low    = 50.0 // minimum to apply
	Max    = 100.0
)

// Normalize converts a backend score to the 0-100 scale. Values at or below
// 1 are treated as fractions; anything else is clamped.
func Normalize(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x <= 1 {
		if x < 0 {
			return 0
		}
		return math.Round(x * 100)
	}
	return math.Round(math.Min(Max, x))
}

// LevelOf classifies a normalized score.
func LevelOf(x float64) Level {
	switch {
	case x >= High:
		return LevelHigh
	case x >= Medium:
		return LevelMedium
	case x >= Low:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// Average is the unweighted mean of scores, 0 for none. It is the degraded
// stand-in when the backend gives no overall confidence.
func Average(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return math.Round(sum / float64(len(scores)))
}
