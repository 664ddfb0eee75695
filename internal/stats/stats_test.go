package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantiles(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}

	got := Quantiles(values, []float64{0, 0.5, 1, 0.25, -1, 2})
	assert.Equal(t, []float64{1, 3, 5, 2, 1, 5}, got)
	assert.InDelta(t, 1.4, Quantile(values, 0.1), 1e-9)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values, "input must not be reordered")

	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestMedianInPlace(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{7}, 7},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MedianInPlace(tt.values))
		})
	}
}

func TestMinPositive(t *testing.T) {
	v, ok := MinPositive([]float64{0, 3, 0.5, -1})
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)

	_, ok = MinPositive([]float64{0, -2})
	assert.False(t, ok)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 2.0, Clamp(3, 0, 2))
	assert.InDelta(t, 0.4, Mean([]float64{0.2, 0.6}), 1e-12)
}
