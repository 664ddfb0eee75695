package hexgrid

import (
	"github.com/apex/log"
	h3 "github.com/uber/h3-go/v4"

	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// H3 implements Oracle with Uber's H3 library. Cell identifiers are the
// canonical lower-case hex strings.
type H3 struct{}

// NewH3 returns the H3 oracle.
func NewH3() *H3 { return &H3{} }

var _ Oracle = (*H3)(nil)

// guard converts a panic raised inside the C binding into a failed lookup.
func guard(op string) {
	if r := recover(); r != nil {
		log.WithField("op", op).Warnf("h3 call panicked: %v", r)
	}
}

func parseCell(id string) (h3.Cell, bool) {
	var c h3.Cell
	if id == "" {
		return c, false
	}
	if err := c.UnmarshalText([]byte(id)); err != nil {
		return c, false
	}
	if !c.IsValid() {
		return c, false
	}
	return c, true
}

// ResolutionOf returns the resolution encoded in id.
func (H3) ResolutionOf(id string) (res int, ok bool) {
	defer guard("resolution")
	c, ok := parseCell(id)
	if !ok {
		return 0, false
	}
	return c.Resolution(), true
}

// ParentAt returns the ancestor of id at res.
func (H3) ParentAt(id string, res int) (parent string, ok bool) {
	defer guard("parent")
	c, ok := parseCell(id)
	if !ok || !ValidResolution(res) {
		return "", false
	}
	cur := c.Resolution()
	if res > cur {
		return "", false
	}
	if res == cur {
		return c.String(), true
	}
	p, err := c.Parent(res)
	if err != nil {
		return "", false
	}
	return p.String(), true
}

// ChildrenAt returns the descendants of id at res.
func (H3) ChildrenAt(id string, res int) (children []string, ok bool) {
	defer guard("children")
	c, ok := parseCell(id)
	if !ok || !ValidResolution(res) {
		return nil, false
	}
	cur := c.Resolution()
	if res < cur {
		return nil, false
	}
	if res == cur {
		return []string{c.String()}, true
	}
	kids, err := c.Children(res)
	if err != nil {
		return nil, false
	}
	out := make([]string, len(kids))
	for i, k := range kids {
		out[i] = k.String()
	}
	return out, true
}

// CenterOf returns the cell center.
func (H3) CenterOf(id string) (center models.LatLng, ok bool) {
	defer guard("center")
	c, ok := parseCell(id)
	if !ok {
		return models.LatLng{}, false
	}
	ll, err := c.LatLng()
	if err != nil {
		return models.LatLng{}, false
	}
	return models.LatLng{Lat: ll.Lat, Lng: ll.Lng}, true
}

// BoundaryOf returns the cell boundary ring.
func (H3) BoundaryOf(id string) (ring []models.LatLng, ok bool) {
	defer guard("boundary")
	c, ok := parseCell(id)
	if !ok {
		return nil, false
	}
	b, err := c.Boundary()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	out := make([]models.LatLng, len(b))
	for i, v := range b {
		out[i] = models.LatLng{Lat: v.Lat, Lng: v.Lng}
	}
	return out, true
}

// NeighborsWithinRing returns the k-disk around id without id itself.
func (H3) NeighborsWithinRing(id string, k int) (neighbors []string, ok bool) {
	defer guard("grid_disk")
	c, ok := parseCell(id)
	if !ok || k < 0 {
		return nil, false
	}
	disk, err := c.GridDisk(k)
	if err != nil {
		return nil, false
	}
	out := make([]string, 0, len(disk))
	for _, n := range disk {
		if n == c {
			continue
		}
		out = append(out, n.String())
	}
	return out, true
}

// CellsInPolygon polyfills ring at res. A closing vertex equal to the first
// one is dropped.
func (H3) CellsInPolygon(ring []models.LatLng, res int) (cells []string, ok bool) {
	defer guard("polyfill")
	if !ValidResolution(res) {
		return nil, false
	}
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, p := range ring {
		loop = append(loop, h3.LatLng{Lat: p.Lat, Lng: p.Lng})
	}
	if n := len(loop); n >= 2 && loop[0] == loop[n-1] {
		loop = loop[:n-1]
	}
	if len(loop) < 3 {
		return nil, false
	}
	found, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, false
	}
	out := make([]string, 0, len(found))
	for _, c := range found {
		if c == 0 {
			continue
		}
		out = append(out, c.String())
	}
	return out, true
}
