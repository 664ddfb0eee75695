package engine

import (
	"math"
	"sort"

	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/spatial"
)

// ResolutionForZoom maps a map zoom to a render resolution:
// steps = max(0, floor((ZoomK - zoom) / ZoomStep)) and the result is
// maxRes - steps clamped to [min(FloorRes, maxRes), maxRes].
func ResolutionForZoom(zoom float64, maxRes int, t Tuning) int {
	step := t.ZoomStep
	if step <= 0 {
		step = 1
	}
	steps := int(math.Max(0, math.Floor((t.ZoomK-zoom)/step)))
	res := maxRes - steps
	floor := floorRes(maxRes, t)
	if res < floor {
		res = floor
	}
	if res > maxRes {
		res = maxRes
	}
	return res
}

func floorRes(maxRes int, t Tuning) int {
	if t.FloorRes < maxRes {
		return t.FloorRes
	}
	return maxRes
}

// ResolutionForZoom maps zoom to a render resolution for this dataset.
func (s *Session) ResolutionForZoom(zoom float64) int {
	return ResolutionForZoom(zoom, s.base.MaxRes, s.tuning)
}

// FloorRes returns the coarsest resolution the session renders.
func (s *Session) FloorRes() int {
	return floorRes(s.base.MaxRes, s.tuning)
}

// cellsInPolygon runs the polygon fill for b at res through the view cache.
// The returned slice is shared and must not be modified.
func (s *Session) cellsInPolygon(b spatial.Bounds, res int) []string {
	key := b.Key(res)
	if ids, ok := s.views.Get(key); ok {
		return ids
	}
	ids, ok := s.geo.CellsInPolygon(b.Ring(), res)
	if !ok {
		ids = nil
	}
	s.views.Add(key, ids)
	return ids
}

// CellsInViewport returns the aggregated cells at res inside b, sorted by
// descending score. It polygon-fills b first; when that yields nothing in
// the aggregation it scans aggregation entries by center, stopping once
// MaxCells*FallbackAbort cells are found. fallback reports the scan path.
func (s *Session) CellsInViewport(b spatial.Bounds, res int) (entries []models.AggEntry, fallback bool) {
	agg := s.Aggregate(res)
	if agg.Len() == 0 {
		return nil, false
	}

	for _, id := range s.cellsInPolygon(b, res) {
		if e, ok := agg.Lookup(id); ok {
			entries = append(entries, e)
		}
	}
	if len(entries) > 0 {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Score > entries[j].Score
		})
		return entries, false
	}

	abort := int(float64(s.tuning.MaxCells) * s.tuning.FallbackAbort)
	for _, e := range agg.Entries {
		c, ok := s.geo.CenterOf(e.CellID)
		if !ok || !b.Contains(c) {
			continue
		}
		entries = append(entries, e)
		if s.tuning.MaxCells > 0 && len(entries) > abort {
			break
		}
	}
	// agg.Entries is already ranked, so the scan result is too.
	return entries, true
}

// View is a resolved viewport: the in-view cells at the chosen resolution.
type View struct {
	Bounds     spatial.Bounds
	Resolution int
	InView     []models.AggEntry
	Capped     bool
	Fallback   bool
	Agg        *Aggregation
}

// Resolve picks the render resolution for zoom and collects the cells in b.
// While more than MaxCells cells are in view it retries one resolution
// coarser, down to the floor; past that the view is flagged Capped and
// Select truncates it.
func (s *Session) Resolve(b spatial.Bounds, zoom float64) *View {
	res := s.ResolutionForZoom(zoom)
	floor := s.FloorRes()
	for {
		inView, fallback := s.CellsInViewport(b, res)
		if s.tuning.MaxCells > 0 && len(inView) > s.tuning.MaxCells && res > floor {
			res--
			continue
		}
		return &View{
			Bounds:     b,
			Resolution: res,
			InView:     inView,
			Capped:     s.tuning.MaxCells > 0 && len(inView) > s.tuning.MaxCells,
			Fallback:   fallback,
			Agg:        s.Aggregate(res),
		}
	}
}

// Select orders in-view cells for drawing, hotspots first when hot is
// non-nil, and truncates to limit (no limit when limit <= 0).
func Select(inView []models.AggEntry, hot *HotspotSet, limit int) []models.AggEntry {
	var selected []models.AggEntry
	if hot != nil {
		selected = make([]models.AggEntry, 0, len(inView))
		rest := make([]models.AggEntry, 0, len(inView))
		for _, e := range inView {
			if hot.Has(e.CellID) {
				selected = append(selected, e)
			} else {
				rest = append(rest, e)
			}
		}
		selected = append(selected, rest...)
	} else {
		selected = make([]models.AggEntry, len(inView))
		copy(selected, inView)
	}
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}
