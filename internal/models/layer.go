package models

import "time"

// LayerImport records the last import of raw rows for a layer.
type LayerImport struct {
	Layer      string    `json:"layer"`
	UpdatedAt  string    `json:"updated_at"` // freshness timestamp carried by the payload
	RowCount   int       `json:"row_count"`
	Skipped    int       `json:"skipped"`
	ImportedAt time.Time `json:"imported_at"`
}

// Freshness describes how old a layer's data is.
type Freshness struct {
	UpdatedAt string `json:"updated_at,omitempty"`
	Class     string `json:"class"` // fresh, stale or very-stale
	Ago       string `json:"ago,omitempty"`
	Label     string `json:"label"`
}

// LayerInfo is the public summary of one layer.
type LayerInfo struct {
	Name       string         `json:"name"`
	Title      string         `json:"title"`
	State      string         `json:"state"`
	Error      string         `json:"error,omitempty"`
	Progress   string         `json:"progress,omitempty"`
	MaxRes     int            `json:"max_res"`
	Rows       int            `json:"rows"`
	Years      []int          `json:"years,omitempty"`
	StartZoom  float64        `json:"start_zoom"`
	HotspotPct float64        `json:"hotspot_pct"`
	Freshness  *Freshness     `json:"freshness,omitempty"`
	Caches     map[string]int `json:"caches,omitempty"`
}

// SessionInfo describes one open client map session. Shapes lists the ids
// the client currently holds and is only filled for a single session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Layer      string    `json:"layer"`
	Created    time.Time `json:"created"`
	Generation uint64    `json:"generation"`
	State      string    `json:"state"`
	ShapeCount int       `json:"shape_count"`
	Shapes     []string  `json:"shapes,omitempty"`
}
