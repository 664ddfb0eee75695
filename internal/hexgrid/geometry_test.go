package hexgrid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/hexmap-backend-go/internal/hexgrid"
	"github.com/jengzang/hexmap-backend-go/internal/hexgrid/hexgridtest"
)

func TestGeometryCacheMemoizesCenters(t *testing.T) {
	fake := hexgridtest.New("a012")
	g := hexgrid.NewGeometryCache(fake, hexgrid.DefaultCacheSizes)

	first, ok := g.CenterOf("a012")
	require.True(t, ok)
	second, ok := g.CenterOf("a012")
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Calls("center"))
}

func TestGeometryCacheDoesNotCacheFailures(t *testing.T) {
	fake := hexgridtest.New()
	fake.Fail["a1"] = true
	g := hexgrid.NewGeometryCache(fake, hexgrid.DefaultCacheSizes)

	_, ok := g.BoundaryOf("a1")
	assert.False(t, ok)
	_, ok = g.BoundaryOf("a1")
	assert.False(t, ok)
	assert.Equal(t, 2, fake.Calls("boundary"))

	delete(fake.Fail, "a1")
	ring, ok := g.BoundaryOf("a1")
	require.True(t, ok)
	assert.Len(t, ring, 4)
}

func TestGeometryCacheParentsDisabledByDefault(t *testing.T) {
	fake := hexgridtest.New()
	g := hexgrid.NewGeometryCache(fake, hexgrid.DefaultCacheSizes)

	for i := 0; i < 3; i++ {
		p, ok := g.ParentAt("a123", 1)
		require.True(t, ok)
		assert.Equal(t, "a1", p)
	}
	assert.Equal(t, 3, fake.Calls("parent"))

	sizes := hexgrid.DefaultCacheSizes
	sizes.ParentsPerRes = 10
	cached := hexgrid.NewGeometryCache(fake, sizes)
	for i := 0; i < 3; i++ {
		_, ok := cached.ParentAt("a123", 1)
		require.True(t, ok)
	}
	assert.Equal(t, 4, fake.Calls("parent"))
	assert.Equal(t, 1, cached.Stats()["parents"])
}

func TestGeometryCacheBoundsEntries(t *testing.T) {
	fake := hexgridtest.New()
	g := hexgrid.NewGeometryCache(fake, hexgrid.CacheSizes{Centers: 2, Boundaries: 2})

	for _, id := range []string{"a1", "a2", "a3"} {
		_, ok := g.CenterOf(id)
		require.True(t, ok)
	}
	assert.Equal(t, 2, g.Stats()["centers"])
}

func TestGeometryCacheWarm(t *testing.T) {
	fake := hexgridtest.New()
	fake.Fail["a2"] = true
	g := hexgrid.NewGeometryCache(fake, hexgrid.DefaultCacheSizes)

	n := g.Warm([]string{"a1", "a2", "a3", "a4"}, 3)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, g.Stats()["boundaries"])
}

func TestGeometryCacheNeighbors(t *testing.T) {
	fake := hexgridtest.New("a00", "a01", "a02", "a06")
	g := hexgrid.NewGeometryCache(fake, hexgrid.DefaultCacheSizes)

	n, ok := g.NeighborsWithinRing("a00", 1)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a01"}, n)

	_, _ = g.NeighborsWithinRing("a00", 1)
	assert.Equal(t, 1, fake.Calls("neighbors"))
}
