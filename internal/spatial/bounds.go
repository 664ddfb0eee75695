package spatial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// ErrInvalidBounds is returned for non-finite or inverted latitude ranges.
var ErrInvalidBounds = errors.New("invalid viewport bounds")

// Bounds is a map viewport in degrees. West may exceed East when the
// viewport crosses the antimeridian.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// NewBounds validates and returns a viewport rectangle
func NewBounds(south, west, north, east float64) (Bounds, error) {
	for _, v := range []float64{south, west, north, east} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Bounds{}, ErrInvalidBounds
		}
	}
	if south > north || south < -90 || north > 90 {
		return Bounds{}, fmt.Errorf("%w: south=%v north=%v", ErrInvalidBounds, south, north)
	}
	return Bounds{South: south, West: west, North: north, East: east}, nil
}

// Rect converts the bounds to an s2 rectangle
func (b Bounds) Rect() s2.Rect {
	sw := s2.LatLngFromDegrees(b.South, b.West).Normalized()
	ne := s2.LatLngFromDegrees(b.North, b.East).Normalized()
	return s2.Rect{
		Lat: r1.Interval{
			Lo: sw.Lat.Radians(),
			Hi: ne.Lat.Radians()},
		Lng: s1.IntervalFromEndpoints(sw.Lng.Radians(), ne.Lng.Radians()),
	}
}

// Contains reports whether p lies inside the bounds (edges included)
func (b Bounds) Contains(p models.LatLng) bool {
	if p.Lat < b.South || p.Lat > b.North {
		return false
	}
	if b.West <= b.East {
		return p.Lng >= b.West && p.Lng <= b.East
	}
	return b.Rect().ContainsLatLng(s2.LatLngFromDegrees(p.Lat, p.Lng))
}

// Width returns the longitude span in degrees
func (b Bounds) Width() float64 {
	if b.West <= b.East {
		return b.East - b.West
	}
	return b.East - b.West + 360
}

// wrapLng maps a longitude into [-180, 180]
func wrapLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	return math.Remainder(lng, 360)
}

// Pad grows the bounds by frac of their height and width on each side.
// Longitudes pushed past the antimeridian wrap around, leaving West > East;
// a padded span of a full turn or more covers every longitude.
func (b Bounds) Pad(frac float64) Bounds {
	dLat := (b.North - b.South) * frac
	dLng := b.Width() * frac
	out := Bounds{
		South: math.Max(-90, b.South-dLat),
		North: math.Min(90, b.North+dLat),
	}
	if b.Width()+2*dLng >= 360 {
		out.West, out.East = -180, 180
		return out
	}
	out.West = wrapLng(b.West - dLng)
	out.East = wrapLng(b.East + dLng)
	return out
}

// Ring returns the closed rectangle ring used for polygon fill queries
func (b Bounds) Ring() []models.LatLng {
	return []models.LatLng{
		{Lat: b.South, Lng: b.West},
		{Lat: b.South, Lng: b.East},
		{Lat: b.North, Lng: b.East},
		{Lat: b.North, Lng: b.West},
		{Lat: b.South, Lng: b.West},
	}
}

// Key returns a cache key rounded to six decimals so tiny float jitter
// during inertial panning maps to the same entry
func (b Bounds) Key(res int) string {
	return fmt.Sprintf("%.6f|%.6f|%.6f|%.6f|%d", b.South, b.West, b.North, b.East, res)
}

// BBoxString formats the bounds as "west,south,east,north"
func (b Bounds) BBoxString() string {
	parts := []string{
		strconv.FormatFloat(b.West, 'f', -1, 64),
		strconv.FormatFloat(b.South, 'f', -1, 64),
		strconv.FormatFloat(b.East, 'f', -1, 64),
		strconv.FormatFloat(b.North, 'f', -1, 64),
	}
	return strings.Join(parts, ",")
}
