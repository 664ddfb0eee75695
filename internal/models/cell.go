package models

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RawRecord is one normalized input row. CellID may be at any resolution;
// the base builder expands it to the dataset's finest resolution.
type RawRecord struct {
	CellID string  `json:"h3"`
	Value  float64 `json:"value"`
	Time   int64   `json:"ts,omitempty"`   // Unix seconds, 0 when absent
	Year   int     `json:"year,omitempty"` // 0 when absent
}

// BaseRecord is one row of the base table. Every base record shares the
// dataset's MAX_RES.
type BaseRecord struct {
	CellID string
	Value  float64
	Year   int
	Time   int64
}

// CellStats holds the per-ancestor summary produced by aggregation.
type CellStats struct {
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

// AggEntry is one aggregated cell at a target resolution.
type AggEntry struct {
	CellID string    `json:"id"`
	Score  float64   `json:"score"` // weighted blend or sum, depending on the layer
	Stats  CellStats `json:"stats"`
}
