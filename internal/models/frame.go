package models

// Shape operation kinds sent to map clients.
const (
	OpCreate = "create"
	OpPatch  = "patch"
	OpRemove = "remove"
)

// ShapeOp is one mutation of the client's shape pool. A patch carries only
// the fields that changed; a nil Opacity leaves the client's value alone.
type ShapeOp struct {
	Op       string   `json:"op"`
	ID       string   `json:"id"`
	Boundary []LatLng `json:"boundary,omitempty"`
	Fill     string   `json:"fill,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Tooltip  string   `json:"tooltip,omitempty"` // hover content
}

// Legend carries the value range mapped onto the color ramp.
type Legend struct {
	Min float64 `json:"min"`
	Mid float64 `json:"mid"`
	Max float64 `json:"max"`
}

// DrawStatus summarizes one draw cycle (the badge shown next to the map).
type DrawStatus struct {
	Layer      string  `json:"layer"`
	Resolution int     `json:"resolution"`
	Shown      int     `json:"shown"`
	InView     int     `json:"in_view"`
	Hotspots   int     `json:"hotspots"` // -1 when hotspot mode is off
	Capped     bool    `json:"capped"`
	Skipped    bool    `json:"skipped"` // identical signature, no work done
	Cleared    bool    `json:"cleared"` // below minimum zoom
	Badge      string  `json:"badge"`
	Legend     *Legend `json:"legend,omitempty"`
}

// Frame is one chunk of a draw, delivered between host yields.
type Frame struct {
	Seq    int         `json:"seq"`
	Ops    []ShapeOp   `json:"ops"`
	Done   bool        `json:"done"`
	Status *DrawStatus `json:"status,omitempty"`
}
