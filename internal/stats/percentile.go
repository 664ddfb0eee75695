package stats

import (
	"math"
	"sort"
)

// Quantile calculates the q-th quantile (0 <= q <= 1)
// Uses linear interpolation between closest ranks; NaN for no values
func Quantile(values []float64, q float64) float64 {
	return Quantiles(values, []float64{q})[0]
}

// Quantiles calculates several quantiles with a single sort
func Quantiles(values []float64, qs []float64) []float64 {
	results := make([]float64, len(qs))
	if len(values) == 0 {
		for i := range results {
			results[i] = math.NaN()
		}
		return results
	}

	// Sort once for efficiency
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	for i, q := range qs {
		results[i] = sortedQuantile(sorted, q)
	}
	return results
}

func sortedQuantile(sorted []float64, q float64) float64 {
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	n := float64(len(sorted))
	index := q * (n - 1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}
	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
