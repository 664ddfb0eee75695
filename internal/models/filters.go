package models

import "fmt"

// LayerFilter narrows the base table before aggregation. Any change to it
// invalidates every aggregation, hotspot and viewport cache of a session.
type LayerFilter struct {
	Threshold float64 `form:"threshold" json:"threshold"` // skip values below this
	Year      int     `form:"year" json:"year"`           // 0 = all years
	From      int64   `form:"from" json:"from"`           // Unix seconds, 0 = open
	To        int64   `form:"to" json:"to"`               // Unix seconds, 0 = open
}

// Key returns a stable string used as part of cache keys.
func (f LayerFilter) Key() string {
	year := "ALL"
	if f.Year != 0 {
		year = fmt.Sprintf("%d", f.Year)
	}
	return fmt.Sprintf("%s|%.4f|%d|%d", year, f.Threshold, f.From, f.To)
}

// Accepts reports whether a base record passes the filter.
func (f LayerFilter) Accepts(r BaseRecord) bool {
	if r.Value < f.Threshold {
		return false
	}
	if f.Year != 0 && r.Year != f.Year {
		return false
	}
	if f.From != 0 && (r.Time == 0 || r.Time < f.From) {
		return false
	}
	if f.To != 0 && (r.Time == 0 || r.Time > f.To) {
		return false
	}
	return true
}

// ViewportRequest describes one draw request from a map client.
type ViewportRequest struct {
	Zoom       float64     `json:"zoom" form:"zoom"`
	North      float64     `json:"north" form:"north"`
	South      float64     `json:"south" form:"south"`
	East       float64     `json:"east" form:"east"`
	West       float64     `json:"west" form:"west"`
	Hotspots   bool        `json:"hotspots" form:"hotspots"`
	HotspotPct float64     `json:"hotspot_pct" form:"pct"`    // 0-1
	MaxCells   int         `json:"max_cells" form:"maxCells"` // 0 = layer default
	Filter     LayerFilter `json:"filter"`
}
