package waste

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spreadContainers(cat Category, n int) []ContainerRecord {
	out := make([]ContainerRecord, 0, n)
	for i := 0; i < n; i++ {
		c := container(fmt.Sprintf("%s-%d", slugify(string(cat)), i), "Centrum", cat, (i*17)%100)
		c.Lat = 52.35 + float64(i%7)*0.004
		c.Lon = 4.88 + float64(i/7)*0.006
		out = append(out, c)
	}
	return out
}

func newTestRouteBuilder() *RouteBuilder {
	b := NewRouteBuilder(seededRand(21))
	b.now = clock
	return b
}

func TestBuildRoutes_SkipsSmallCategories(t *testing.T) {
	containers := append(spreadContainers(CategoryGlass, 2), spreadContainers(CategoryPaper, 3)...)

	set := newTestRouteBuilder().BuildRoutes(containers, 10)
	require.Len(t, set.Routes, 1)
	assert.Equal(t, CategoryPaper, set.Routes[0].Category)
	assert.Len(t, set.Routes[0].Stops, 3)
	assert.True(t, set.GeneratedAt.Equal(fixedNow))
}

func TestBuildRoutes_KeepsCategoriesOutsideDisplayOrder(t *testing.T) {
	containers := append(spreadContainers("Textile", 5), spreadContainers(CategoryGlass, 4)...)

	set := newTestRouteBuilder().BuildRoutes(containers, 10)
	require.Len(t, set.Routes, 2)
	assert.Equal(t, Category("Textile"), set.Routes[0].Category, "larger category is served first")
	assert.Len(t, set.Routes[0].Stops, 5)
	assert.Equal(t, CategoryGlass, set.Routes[1].Category)
}

func TestCategoryOrder(t *testing.T) {
	groups := map[Category]int{
		"Textile":         1,
		CategoryUnknown:   1,
		"Bulky":           1,
		CategoryGlass:     1,
		CategoryRecycling: 1,
	}
	assert.Equal(t,
		[]Category{CategoryRecycling, CategoryGlass, CategoryUnknown, "Bulky", "Textile"},
		categoryOrder(groups))
}

func TestBuildRoutes_StopsVisitEachContainerOnce(t *testing.T) {
	containers := spreadContainers(CategoryOrganic, 40)
	byID := make(map[string]ContainerRecord)
	for _, c := range containers {
		byID[c.ID] = c
	}

	set := newTestRouteBuilder().BuildRoutes(containers, 10)
	require.Len(t, set.Routes, 2, "one route per 15 containers")

	for _, r := range set.Routes {
		assert.Equal(t, CategoryOrganic, r.Category)
		assert.Equal(t, CategoryColor(CategoryOrganic), r.Color)
		assert.GreaterOrEqual(t, len(r.Stops), minRouteSample)
		assert.LessOrEqual(t, len(r.Stops), maxRouteSample)
		assert.Greater(t, r.LengthMeters, 0.0)

		seen := make(map[string]bool)
		for i, s := range r.Stops {
			assert.Equal(t, i+1, s.Sequence)
			assert.False(t, seen[s.ContainerID], "container %s visited twice", s.ContainerID)
			seen[s.ContainerID] = true

			src, ok := byID[s.ContainerID]
			require.True(t, ok)
			assert.Equal(t, src.Lat, s.Lat)
			assert.Equal(t, src.FillLevel, s.FillLevel)
		}
	}
	assert.Equal(t, "organic-1", set.Routes[0].ID)
	assert.Equal(t, "organic-2", set.Routes[1].ID)
}

func TestBuildRoutes_RespectsBudget(t *testing.T) {
	var containers []ContainerRecord
	containers = append(containers, spreadContainers(CategoryGeneralWaste, 60)...)
	containers = append(containers, spreadContainers(CategoryPaper, 20)...)
	containers = append(containers, spreadContainers(CategoryGlass, 5)...)

	b := newTestRouteBuilder()
	set := b.BuildRoutes(containers, 5)
	require.Len(t, set.Routes, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, CategoryGeneralWaste, set.Routes[i].Category, "largest category is served first")
	}
	assert.Equal(t, CategoryPaper, set.Routes[4].Category)

	set = b.BuildRoutes(containers, 10)
	assert.Len(t, set.Routes, 6)
}

func TestBuildRoutes_Empty(t *testing.T) {
	b := newTestRouteBuilder()
	assert.Empty(t, b.BuildRoutes(nil, 10).Routes)
	assert.NotNil(t, b.BuildRoutes(nil, 10).Routes)
	assert.Empty(t, b.BuildRoutes(spreadContainers(CategoryGlass, 10), 0).Routes)
}

func TestNearestNeighbourOrder(t *testing.T) {
	members := []ContainerRecord{
		{ID: "far", Lat: 52.40, Lon: 4.90},
		{ID: "start", Lat: 52.30, Lon: 4.90},
		{ID: "near", Lat: 52.31, Lon: 4.90},
		{ID: "mid", Lat: 52.35, Lon: 4.90},
	}
	ordered := nearestNeighbourOrder(members, 1)

	ids := make([]string, len(ordered))
	for i, m := range ordered {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"start", "near", "mid", "far"}, ids)
}

func TestPickStart_PrefersFullContainers(t *testing.T) {
	b := newTestRouteBuilder()
	sample := []ContainerRecord{{FillLevel: 0}, {FillLevel: 99}}

	hits := 0
	for i := 0; i < 1000; i++ {
		if b.pickStart(sample) == 1 {
			hits++
		}
	}
	assert.Greater(t, hits, 950)
}

func TestRouteSet_FeatureCollection(t *testing.T) {
	set := newTestRouteBuilder().BuildRoutes(spreadContainers(CategoryPlastic, 6), 3)
	require.Len(t, set.Routes, 1)

	fc := set.FeatureCollection()
	require.Len(t, fc.Features, 1)
	f := fc.Features[0]

	line, ok := f.Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, line, len(set.Routes[0].Stops))
	assert.Equal(t, set.Routes[0].Stops[0].Lon, line[0].Lon())
	assert.Equal(t, "Plastic", f.Properties["category"])
	assert.Equal(t, set.Routes[0].ID, f.ID)
	assert.Len(t, f.Properties["containerIds"], len(set.Routes[0].Stops))

	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"LineString"`)
}
