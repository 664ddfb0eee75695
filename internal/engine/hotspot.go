package engine

import (
	"math"
	"strconv"
)

// HotspotSet is the globally top-ranked cells of one aggregation. It does
// not depend on the viewport, so it stays stable while panning.
type HotspotSet struct {
	Resolution int
	Fraction   float64
	Ordered    []string
	ids        map[string]struct{}
}

// Has reports whether id is a hotspot.
func (h *HotspotSet) Has(id string) bool {
	if h == nil {
		return false
	}
	_, ok := h.ids[id]
	return ok
}

// Len returns the hotspot count.
func (h *HotspotSet) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Ordered)
}

// HotspotCount returns how many of n ranked entries are hotspots:
// max(1, max(min, ceil(n*fraction))) clipped to n.
func HotspotCount(n int, fraction float64, min int) int {
	top := int(math.Ceil(float64(n) * fraction))
	if min > top {
		top = min
	}
	if top < 1 {
		top = 1
	}
	if top > n {
		top = n
	}
	return top
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Hotspots returns the hotspot set at res for fraction (clamped to [0,1]).
func (s *Session) Hotspots(res int, fraction float64) *HotspotSet {
	fraction = clampFraction(fraction)
	key := hotKey{
		filter:   s.filter.Key(),
		res:      res,
		fraction: strconv.FormatFloat(fraction, 'f', 4, 64),
		min:      s.tuning.HotspotMin,
	}
	if h, ok := s.hotspots.Get(key); ok {
		return h
	}

	agg := s.Aggregate(res)
	n := HotspotCount(agg.Len(), fraction, s.tuning.HotspotMin)
	h := &HotspotSet{
		Resolution: res,
		Fraction:   fraction,
		Ordered:    make([]string, n),
		ids:        make(map[string]struct{}, n),
	}
	for i := 0; i < n; i++ {
		id := agg.Entries[i].CellID
		h.Ordered[i] = id
		h.ids[id] = struct{}{}
	}
	s.hotspots.Add(key, h)
	return h
}
