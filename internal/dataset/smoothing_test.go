package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid/hexgridtest"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

func baseOf(maxRes int, pairs ...any) *Base {
	b := &Base{MaxRes: maxRes}
	for i := 0; i < len(pairs); i += 2 {
		b.Records = append(b.Records, models.BaseRecord{CellID: pairs[i].(string), Value: pairs[i+1].(float64)})
	}
	return b
}

func values(b *Base) []float64 {
	out := make([]float64, b.Len())
	for i, r := range b.Records {
		out[i] = r.Value
	}
	return out
}

func TestSmoothSkippedOffBaseResolution(t *testing.T) {
	base := baseOf(2, "a10", 0.99)
	opts := DefaultSmoothOptions // SmoothAt 12

	got, st := Smooth(hexgridtest.New(), base, opts, nil)
	assert.Same(t, base, got)
	assert.False(t, st.Applied)

	opts.SmoothAt = 2
	opts.Enabled = false
	got, _ = Smooth(hexgridtest.New(), base, opts, nil)
	assert.Same(t, base, got)
}

func TestSmoothThresholdMedian(t *testing.T) {
	base := baseOf(2,
		"a10", 0.5,
		"a11", 0.99,
		"a10", 0.7,
		"a12", 0.02,
		"a13", 0.4,
	)
	opts := DefaultSmoothOptions
	opts.SmoothAt = 2

	got, st := Smooth(hexgridtest.New(), base, opts, nil)

	assert.Equal(t, []string{"a10", "a11", "a12", "a13"}, ids(got.Records))
	assert.InDeltaSlice(t, []float64{0.6, 0.5, 0.5, 0.4}, values(got), 1e-9)
	assert.True(t, st.Applied)
	assert.Equal(t, 4, st.Cells)
	assert.Equal(t, 2, st.Outliers)
	assert.InDelta(t, 0.5, st.Median, 1e-9)
}

func TestSmoothNeighborAverage(t *testing.T) {
	fake := hexgridtest.New("a00", "a01", "a03", "a04")
	base := baseOf(2,
		"a00", 0.99,
		"a01", 0.3,
		"a03", 0.5,
		"a04", 0.01,
	)
	opts := DefaultSmoothOptions
	opts.SmoothAt = 2
	opts.Replace = ReplaceNeighbors

	got, st := Smooth(fake, base, opts, nil)
	require.Equal(t, 2, st.Outliers)

	// a00's neighbors are a01, a03 and a04; a04 is itself an outlier.
	assert.InDelta(t, 0.4, got.Records[0].Value, 1e-9)
	// a04's neighbors are all three others; a00 is an outlier.
	assert.InDelta(t, 0.4, got.Records[3].Value, 1e-9)

	opts.LogitMean = true
	got, _ = Smooth(fake, base, opts, nil)
	assert.InDelta(t, sigmoid((logit(0.3)+logit(0.5))/2), got.Records[0].Value, 1e-9)
}

func TestSmoothPercentileBounds(t *testing.T) {
	base := &Base{MaxRes: 1}
	for i := 0; i < 7; i++ {
		base.Records = append(base.Records, models.BaseRecord{CellID: "a" + string(rune('0'+i)), Value: float64(i)})
	}
	opts := DefaultSmoothOptions
	opts.SmoothAt = 1
	opts.Mode = OutlierPercentile
	opts.LowPctl = 0.1
	opts.HighPctl = 0.9

	got, st := Smooth(hexgridtest.New(), base, opts, nil)
	assert.InDelta(t, 0.6, st.Lo, 1e-9)
	assert.InDelta(t, 5.4, st.Hi, 1e-9)
	assert.Equal(t, 2, st.Outliers)
	assert.Equal(t, []float64{3, 1, 2, 3, 4, 5, 3}, values(got))
}
