package dataset

import (
	"fmt"
	"math"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/stats"
)

// OutlierMode selects how outlier bounds are derived.
type OutlierMode string

const (
	// OutlierThreshold uses fixed Lo/Hi bounds.
	OutlierThreshold OutlierMode = "threshold"
	// OutlierPercentile uses the LowPctl/HighPctl quantiles of the cell values.
	OutlierPercentile OutlierMode = "percentile"
)

// Replacement selects the value written over an outlier.
type Replacement string

const (
	ReplaceMedian    Replacement = "median"
	ReplaceNeighbors Replacement = "neighbors"
)

// SmoothOptions configures base-resolution outlier smoothing. Smoothing
// only runs when Enabled and SmoothAt equals the dataset's MaxRes.
type SmoothOptions struct {
	Enabled   bool
	SmoothAt  int
	Mode      OutlierMode
	Lo        float64
	Hi        float64
	LowPctl   float64
	HighPctl  float64
	Replace   Replacement
	KRing     int
	LogitMean bool
}

// DefaultSmoothOptions are the map client's defaults.
var DefaultSmoothOptions = SmoothOptions{
	Enabled:  true,
	SmoothAt: 12,
	Mode:     OutlierThreshold,
	Lo:       0.05,
	Hi:       0.95,
	LowPctl:  0.005,
	HighPctl: 0.995,
	Replace:  ReplaceMedian,
	KRing:    1,
}

// SmoothStats reports what smoothing did.
type SmoothStats struct {
	Applied  bool    `json:"applied"`
	Cells    int     `json:"cells"`
	Outliers int     `json:"outliers"`
	Median   float64 `json:"median"`
	Lo       float64 `json:"lo"`
	Hi       float64 `json:"hi"`
}

// Smooth de-duplicates the base table to one median value per cell and
// replaces outliers. The input is returned unchanged when the options do
// not apply to base.MaxRes.
func Smooth(oracle hexgrid.Oracle, base *Base, opts SmoothOptions, progress func(string)) (*Base, SmoothStats) {
	if !opts.Enabled || opts.SmoothAt != base.MaxRes || base.Len() == 0 {
		return base, SmoothStats{}
	}

	order, perCell, first := dedupeMedian(base.Records)
	values := make([]float64, len(order))
	for i, id := range order {
		values[i] = perCell[id]
	}

	lo, hi := opts.Lo, opts.Hi
	if opts.Mode == OutlierPercentile {
		q := stats.Quantiles(values, []float64{opts.LowPctl, opts.HighPctl})
		lo, hi = q[0], q[1]
	}
	median := stats.Quantile(values, 0.5)
	isOut := func(p float64) bool { return p < lo || p > hi }

	st := SmoothStats{Applied: true, Cells: len(order), Median: median, Lo: lo, Hi: hi}
	out := make([]models.BaseRecord, 0, len(order))
	for i, id := range order {
		p := perCell[id]
		if isOut(p) {
			st.Outliers++
			p = median
			if opts.Replace == ReplaceNeighbors {
				if avg, ok := neighborAverage(oracle, id, opts, perCell, isOut); ok {
					p = avg
				}
			}
		}
		rec := first[id]
		rec.Value = p
		out = append(out, rec)
		if progress != nil && (i+1)%progressEvery == 0 {
			progress(fmt.Sprintf("Smoothing %d/%d", i+1, len(order)))
		}
	}
	return &Base{Records: out, MaxRes: base.MaxRes, Years: base.Years}, st
}

// dedupeMedian collapses records to one median value per cell, keeping
// first-seen order and the first record's year and time.
func dedupeMedian(records []models.BaseRecord) ([]string, map[string]float64, map[string]models.BaseRecord) {
	bins := make(map[string][]float64, len(records))
	first := make(map[string]models.BaseRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := bins[r.CellID]; !ok {
			order = append(order, r.CellID)
			first[r.CellID] = r
		}
		bins[r.CellID] = append(bins[r.CellID], r.Value)
	}
	perCell := make(map[string]float64, len(bins))
	for id, vals := range bins {
		perCell[id] = stats.MedianInPlace(vals)
	}
	return order, perCell, first
}

// neighborAverage averages the known values around id, preferring
// neighbors that are not outliers themselves.
func neighborAverage(oracle hexgrid.Oracle, id string, opts SmoothOptions, lookup map[string]float64, isOut func(float64) bool) (float64, bool) {
	k := opts.KRing
	if k < 1 {
		k = 1
	}
	nbrs, ok := oracle.NeighborsWithinRing(id, k)
	if !ok || len(nbrs) == 0 {
		return 0, false
	}
	var vals, favored []float64
	for _, n := range nbrs {
		v, ok := lookup[n]
		if !ok {
			continue
		}
		vals = append(vals, v)
		if !isOut(v) {
			favored = append(favored, v)
		}
	}
	use := favored
	if len(use) == 0 {
		use = vals
	}
	if len(use) == 0 {
		return 0, false
	}
	if !opts.LogitMean {
		return stats.Mean(use), true
	}
	var s float64
	for _, v := range use {
		s += logit(v)
	}
	return sigmoid(s / float64(len(use))), true
}

func logit(p float64) float64 {
	p = stats.Clamp(p, 1e-6, 1-1e-6)
	return math.Log(p / (1 - p))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
