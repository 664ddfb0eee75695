package engine

import (
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/stats"
)

// Legend returns the numbers shown beside a count layer's color ramp: the
// smallest positive score (or the smallest score when none is positive),
// the middle-ranked score and the largest score.
func (a *Aggregation) Legend() models.Legend {
	n := len(a.Entries)
	if n == 0 {
		return models.Legend{Min: 0, Mid: 0, Max: 1}
	}
	scores := make([]float64, n)
	for i, e := range a.Entries {
		scores[i] = e.Score
	}
	min, ok := stats.MinPositive(scores)
	if !ok {
		min = scores[n-1]
	}
	return models.Legend{Min: min, Mid: scores[n/2], Max: scores[0]}
}

// Normalizer maps scores onto [0,1] for coloring.
type Normalizer func(score float64) float64

// Identity keeps scores that are already probabilities, clamped to [0,1].
func Identity(score float64) float64 { return stats.Clamp01(score) }

// MinMax maps legend min to 0 and max to 1; a flat range maps to 0.5.
func MinMax(l models.Legend) Normalizer {
	if l.Max <= l.Min {
		return func(float64) float64 { return 0.5 }
	}
	span := l.Max - l.Min
	return func(score float64) float64 {
		return stats.Clamp01((score - l.Min) / span)
	}
}
