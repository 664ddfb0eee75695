// Package hexgrid wraps the hexagonal grid library behind a result-typed
// oracle and caches its answers.
//
// No oracle method panics or returns an error: a failed lookup is ok == false
// and callers skip the record.
package hexgrid

import "github.com/jengzang/hexmap-backend-go/internal/models"

// MaxResolution is the finest resolution the grid supports.
const MaxResolution = 15

// Oracle answers geometry questions about opaque cell identifiers.
type Oracle interface {
	// ResolutionOf returns the resolution encoded in id.
	ResolutionOf(id string) (int, bool)
	// ParentAt returns the ancestor of id at res (id itself when res equals its resolution).
	ParentAt(id string, res int) (string, bool)
	// ChildrenAt returns the descendants of id at res.
	ChildrenAt(id string, res int) ([]string, bool)
	// CenterOf returns the cell center.
	CenterOf(id string) (models.LatLng, bool)
	// BoundaryOf returns the cell boundary ring (not closed).
	BoundaryOf(id string) ([]models.LatLng, bool)
	// NeighborsWithinRing returns every cell within grid distance k, excluding id.
	NeighborsWithinRing(id string, k int) ([]string, bool)
	// CellsInPolygon returns the cells at res whose centers fall inside ring.
	CellsInPolygon(ring []models.LatLng, res int) ([]string, bool)
}

// ValidResolution reports whether res is inside the grid's range.
func ValidResolution(res int) bool {
	return res >= 0 && res <= MaxResolution
}
