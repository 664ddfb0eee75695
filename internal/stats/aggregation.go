package stats

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MedianInPlace sorts values and returns their median
func MedianInPlace(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return values[0]
	}
	sort.Float64s(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// MinPositive returns the smallest value > 0, or false when there is none
func MinPositive(values []float64) (float64, bool) {
	min := math.Inf(1)
	for _, v := range values {
		if v > 0 && v < min {
			min = v
		}
	}
	if math.IsInf(min, 1) {
		return 0, false
	}
	return min, true
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Clamp01 limits v to [0, 1]
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}
