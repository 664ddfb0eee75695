package hexgrid

import (
	"fmt"
	"sync"

	"github.com/jengzang/hexmap-backend-go/internal/cache"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// CacheSizes bounds each geometry cache. A zero size disables that cache.
type CacheSizes struct {
	Centers       int
	Boundaries    int
	ParentsPerRes int
	Neighbors     int
}

// DefaultCacheSizes mirrors the limits used by the map client.
var DefaultCacheSizes = CacheSizes{
	Centers:       30000,
	Boundaries:    25000,
	ParentsPerRes: 0,
	Neighbors:     5000,
}

type ringKey struct {
	id string
	k  int
}

// GeometryCache memoizes oracle answers behind bounded LRU caches. It
// implements Oracle itself, so any component can take either.
//
// Misses are filled synchronously and failed lookups are never cached.
// The underlying LRUs are safe for concurrent use, so one GeometryCache can
// back every session of a layer.
type GeometryCache struct {
	oracle     Oracle
	sizes      CacheSizes
	centers    *cache.LRU[string, models.LatLng]
	boundaries *cache.LRU[string, []models.LatLng]
	neighbors  *cache.LRU[ringKey, []string]

	mu      sync.Mutex
	parents map[int]*cache.LRU[string, string]
}

var _ Oracle = (*GeometryCache)(nil)

// NewGeometryCache wraps oracle with caches bounded by sizes.
func NewGeometryCache(oracle Oracle, sizes CacheSizes) *GeometryCache {
	return &GeometryCache{
		oracle:     oracle,
		sizes:      sizes,
		centers:    cache.New[string, models.LatLng]("geo_center", sizes.Centers),
		boundaries: cache.New[string, []models.LatLng]("geo_boundary", sizes.Boundaries),
		neighbors:  cache.New[ringKey, []string]("geo_neighbors", sizes.Neighbors),
		parents:    make(map[int]*cache.LRU[string, string]),
	}
}

// ResolutionOf is not cached; it is a cheap bit read in every real oracle.
func (g *GeometryCache) ResolutionOf(id string) (int, bool) {
	return g.oracle.ResolutionOf(id)
}

func (g *GeometryCache) parentCache(res int) *cache.LRU[string, string] {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.parents[res]
	if !ok {
		c = cache.New[string, string](fmt.Sprintf("geo_parent_r%d", res), g.sizes.ParentsPerRes)
		g.parents[res] = c
	}
	return c
}

// ParentAt returns the ancestor of id at res.
func (g *GeometryCache) ParentAt(id string, res int) (string, bool) {
	if g.sizes.ParentsPerRes <= 0 {
		return g.oracle.ParentAt(id, res)
	}
	return g.parentCache(res).GetOrAdd(id, func() (string, bool) {
		return g.oracle.ParentAt(id, res)
	})
}

// ChildrenAt is passed straight through; child lists are only needed once
// per raw record at load time.
func (g *GeometryCache) ChildrenAt(id string, res int) ([]string, bool) {
	return g.oracle.ChildrenAt(id, res)
}

// CenterOf returns the cached cell center.
func (g *GeometryCache) CenterOf(id string) (models.LatLng, bool) {
	return g.centers.GetOrAdd(id, func() (models.LatLng, bool) {
		return g.oracle.CenterOf(id)
	})
}

// BoundaryOf returns the cached boundary ring. Callers must not modify it.
func (g *GeometryCache) BoundaryOf(id string) ([]models.LatLng, bool) {
	return g.boundaries.GetOrAdd(id, func() ([]models.LatLng, bool) {
		return g.oracle.BoundaryOf(id)
	})
}

// NeighborsWithinRing returns the cached k-ring of id.
func (g *GeometryCache) NeighborsWithinRing(id string, k int) ([]string, bool) {
	return g.neighbors.GetOrAdd(ringKey{id: id, k: k}, func() ([]string, bool) {
		return g.oracle.NeighborsWithinRing(id, k)
	})
}

// CellsInPolygon is passed through; viewport results are cached by the
// resolver under rounded keys.
func (g *GeometryCache) CellsInPolygon(ring []models.LatLng, res int) ([]string, bool) {
	return g.oracle.CellsInPolygon(ring, res)
}

// Warm loads boundaries and centers for ids, stopping after limit cells.
// It returns the number of cells whose boundary was resolved.
func (g *GeometryCache) Warm(ids []string, limit int) int {
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	n := 0
	for _, id := range ids {
		if _, ok := g.BoundaryOf(id); ok {
			n++
		}
		g.CenterOf(id)
	}
	return n
}

// Stats reports the number of cached entries per cache.
func (g *GeometryCache) Stats() map[string]int {
	out := map[string]int{
		"centers":    g.centers.Len(),
		"boundaries": g.boundaries.Len(),
		"neighbors":  g.neighbors.Len(),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	parents := 0
	for _, c := range g.parents {
		parents += c.Len()
	}
	out["parents"] = parents
	return out
}
