// Package engine turns a base table into ranked, viewport-limited cell
// selections: aggregation by ancestor, global hotspots and zoom-driven
// resolution choice.
package engine

import (
	"github.com/jengzang/hexmap-backend-go/internal/cache"
	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

type aggKey struct {
	res    int
	filter string
}

type hotKey struct {
	filter   string
	res      int
	fraction string
	min      int
}

// Session owns a base table and every cache derived from it. A Session is
// not safe for concurrent use; callers serialize access to it.
type Session struct {
	layer  string
	base   *dataset.Base
	geo    hexgrid.Oracle
	tuning Tuning
	filter models.LayerFilter

	aggs     *cache.LRU[aggKey, *Aggregation]
	hotspots *cache.LRU[hotKey, *HotspotSet]
	views    *cache.LRU[string, []string]
}

// NewSession creates a session over base. geo is usually a shared
// *hexgrid.GeometryCache. A nil base is treated as an empty dataset.
func NewSession(layer string, base *dataset.Base, geo hexgrid.Oracle, tuning Tuning) *Session {
	if base == nil {
		base = &dataset.Base{}
	}
	return &Session{
		layer:    layer,
		base:     base,
		geo:      geo,
		tuning:   tuning,
		aggs:     cache.New[aggKey, *Aggregation]("agg_"+layer, tuning.AggCacheSize),
		hotspots: cache.New[hotKey, *HotspotSet]("hotspot_"+layer, tuning.HotspotCacheSize),
		views:    cache.New[string, []string]("view_"+layer, tuning.ViewCacheSize),
	}
}

// Layer returns the layer name.
func (s *Session) Layer() string { return s.layer }

// MaxRes returns the base resolution of the dataset.
func (s *Session) MaxRes() int { return s.base.MaxRes }

// Base returns the base table.
func (s *Session) Base() *dataset.Base { return s.base }

// Geometry returns the oracle used by the session.
func (s *Session) Geometry() hexgrid.Oracle { return s.geo }

// Tuning returns the session's tuning constants.
func (s *Session) Tuning() Tuning { return s.tuning }

// Filter returns the active filter.
func (s *Session) Filter() models.LayerFilter { return s.filter }

// SetFilter changes the active filter. Any change drops every aggregation,
// hotspot and viewport cache. It reports whether the filter changed.
func (s *Session) SetFilter(f models.LayerFilter) bool {
	if f == s.filter {
		return false
	}
	s.filter = f
	s.Invalidate()
	return true
}

// Invalidate drops every derived cache.
func (s *Session) Invalidate() {
	s.aggs.Purge()
	s.hotspots.Purge()
	s.views.Purge()
}

// CacheStats reports cache occupancy.
func (s *Session) CacheStats() map[string]int {
	return map[string]int{
		"aggregations": s.aggs.Len(),
		"hotspots":     s.hotspots.Len(),
		"views":        s.views.Len(),
	}
}

// Prime computes the aggregation and hotspot set used at zoom so the first
// draw is served from cache.
func (s *Session) Prime(zoom, fraction float64) {
	res := s.ResolutionForZoom(zoom)
	s.Aggregate(res)
	s.Hotspots(res, fraction)
}
