// Package hexgridtest provides a deterministic in-memory grid for tests.
//
// Cell ids are a base letter followed by one digit 0-6 per resolution step,
// so "a" is a resolution 0 cell and "a31" its grandchild at resolution 2.
// Each cell is a square split 3x3 into children (digit = col + 3*row), so
// every child's center lies inside its parent.
package hexgridtest

import (
	"math"
	"sort"
	"sync"

	"github.com/jengzang/hexmap-backend-go/internal/models"
)

const baseSize = 9.0

// Fake implements hexgrid.Oracle over synthetic ids.
type Fake struct {
	// NoPolyfill makes CellsInPolygon report failure.
	NoPolyfill bool
	// Fail lists ids for which every lookup fails.
	Fail map[string]bool

	mu    sync.Mutex
	known map[string]struct{}
	calls map[string]int
}

// New returns a Fake that already knows ids and their ancestors.
func New(ids ...string) *Fake {
	f := &Fake{Fail: map[string]bool{}, known: map[string]struct{}{}, calls: map[string]int{}}
	f.Add(ids...)
	return f
}

// Add registers ids (and their ancestors) for polygon and ring queries.
func (f *Fake) Add(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if !valid(id) {
			continue
		}
		for i := 1; i <= len(id); i++ {
			f.known[id[:i]] = struct{}{}
		}
	}
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func valid(id string) bool {
	if len(id) == 0 || len(id) > 16 {
		return false
	}
	if id[0] < 'a' || id[0] > 'z' {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] < '0' || id[i] > '6' {
			return false
		}
	}
	return true
}

func (f *Fake) usable(id string) bool {
	return valid(id) && !f.Fail[id]
}

// Children enumerates every descendant of id at res.
func Children(id string, res int) []string {
	out := []string{id}
	for r := len(id) - 1; r < res; r++ {
		next := make([]string, 0, len(out)*7)
		for _, p := range out {
			for d := byte('0'); d <= '6'; d++ {
				next = append(next, p+string(d))
			}
		}
		out = next
	}
	return out
}

// Size returns the edge length in degrees of a cell at res.
func Size(res int) float64 {
	return baseSize / math.Pow(3, float64(res))
}

// origin returns the south-west corner of id.
func origin(id string) (lat, lng float64) {
	lng = float64(id[0]-'a') * 10
	for i := 1; i < len(id); i++ {
		d := int(id[i] - '0')
		s := Size(i)
		lng += float64(d%3) * s
		lat += float64(d/3) * s
	}
	return lat, lng
}

// ResolutionOf returns len(id)-1.
func (f *Fake) ResolutionOf(id string) (int, bool) {
	f.hit("resolution")
	if !f.usable(id) {
		return 0, false
	}
	return len(id) - 1, true
}

// ParentAt returns the prefix of id for res.
func (f *Fake) ParentAt(id string, res int) (string, bool) {
	f.hit("parent")
	if !f.usable(id) || res < 0 || res > len(id)-1 {
		return "", false
	}
	return id[:res+1], true
}

// ChildrenAt enumerates descendants.
func (f *Fake) ChildrenAt(id string, res int) ([]string, bool) {
	f.hit("children")
	if !f.usable(id) || res < len(id)-1 || res > 15 {
		return nil, false
	}
	return Children(id, res), true
}

// CenterOf returns the square's center.
func (f *Fake) CenterOf(id string) (models.LatLng, bool) {
	f.hit("center")
	if !f.usable(id) {
		return models.LatLng{}, false
	}
	return center(id), true
}

// BoundaryOf returns the square's four corners counter-clockwise.
func (f *Fake) BoundaryOf(id string) ([]models.LatLng, bool) {
	f.hit("boundary")
	if !f.usable(id) {
		return nil, false
	}
	lat, lng := origin(id)
	s := Size(len(id) - 1)
	return []models.LatLng{
		{Lat: lat, Lng: lng},
		{Lat: lat, Lng: lng + s},
		{Lat: lat + s, Lng: lng + s},
		{Lat: lat + s, Lng: lng},
	}, true
}

// NeighborsWithinRing returns known cells at the same resolution whose
// centers are within k cell sizes of id.
func (f *Fake) NeighborsWithinRing(id string, k int) ([]string, bool) {
	f.hit("neighbors")
	if !f.usable(id) || k < 0 {
		return nil, false
	}
	c := center(id)
	lim := float64(k)*Size(len(id)-1) + 1e-9
	var out []string
	for _, other := range f.knownAt(len(id) - 1) {
		if other == id || f.Fail[other] {
			continue
		}
		oc := center(other)
		if math.Abs(oc.Lat-c.Lat) <= lim && math.Abs(oc.Lng-c.Lng) <= lim {
			out = append(out, other)
		}
	}
	return out, true
}

// CellsInPolygon returns known cells at res whose centers fall inside the
// bounding box of ring.
func (f *Fake) CellsInPolygon(ring []models.LatLng, res int) ([]string, bool) {
	f.hit("polyfill")
	if f.NoPolyfill || len(ring) < 3 {
		return nil, false
	}
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, p := range ring {
		minLat, maxLat = math.Min(minLat, p.Lat), math.Max(maxLat, p.Lat)
		minLng, maxLng = math.Min(minLng, p.Lng), math.Max(maxLng, p.Lng)
	}
	var out []string
	for _, id := range f.knownAt(res) {
		if f.Fail[id] {
			continue
		}
		c := center(id)
		if c.Lat >= minLat && c.Lat <= maxLat && c.Lng >= minLng && c.Lng <= maxLng {
			out = append(out, id)
		}
	}
	return out, true
}

func (f *Fake) knownAt(res int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.known {
		if len(id)-1 == res {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func center(id string) models.LatLng {
	lat, lng := origin(id)
	h := Size(len(id)-1) / 2
	return models.LatLng{Lat: lat + h, Lng: lng + h}
}
