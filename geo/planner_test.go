package geo

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	tables, err := LoadDefaultTables()
	require.NoError(t, err)
	return NewPlanner(tables)
}

var palermo = models.Coordinate{Lat: -34.5889, Lng: -58.4306}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "nunez", Normalize("Núñez"))
	assert.Equal(t, "rio cuarto cordoba", Normalize("  Río Cuarto,  CÓRDOBA "))
	assert.Equal(t, "san isidro", Normalize("San-Isidro"))
}

func TestEstimateExtent(t *testing.T) {
	p := newTestPlanner(t)
	cases := map[string]string{
		"Palermo":                   TierTiny,
		"palermo, buenos aires":     TierTiny,
		"Núñez":                     TierTiny,
		"San Isidro":                TierSmall,
		"Mar del Plata":             TierMedium,
		"Buenos Aires":              TierLarge,
		"CABA":                      TierLarge,
		"Córdoba":                   TierLarge,
		"Zona Norte":                TierRegion,
		"Gran Buenos Aires":         TierRegion,
		"Provincia de Buenos Aires": TierProvince,
		"Salta":                     TierProvince,
		"Chacras de Coria, Mendoza": TierProvince,
		"Springfield":               TierTiny,
		"":                          TierTiny,
	}
	for location, want := range cases {
		assert.Equal(t, want, p.EstimateExtent(location).Tier, location)
	}
}

func TestEveryTierHasDistinctRadius(t *testing.T) {
	p := newTestPlanner(t)
	require.Len(t, p.tables.Tiers, 6)
	for i := 1; i < len(p.tables.Tiers); i++ {
		assert.Greater(t, p.tables.Tiers[i].RadiusKm, p.tables.Tiers[i-1].RadiusKm)
	}
}

func TestTinyPlanTilesBoundingBox(t *testing.T) {
	p := newTestPlanner(t)
	plan := p.BuildPlan("Palermo", &palermo)

	require.Equal(t, ModeGrid, plan.Mode)
	size := plan.Extent.GridSize
	require.Equal(t, 3, size)
	require.Len(t, plan.Targets, size*size)

	box := plan.Bounds
	var area float64
	labels := map[string]bool{}
	for _, target := range plan.Targets {
		c := target.Cell
		require.NotNil(t, c)
		labels[c.Label] = true
		assert.True(t, box.Contains(c.Center))
		assert.True(t, c.Bounds.Contains(c.Center))
		area += (c.Bounds.North - c.Bounds.South) * (c.Bounds.East - c.Bounds.West)
	}
	assert.Len(t, labels, size*size)
	boxArea := (box.North - box.South) * (box.East - box.West)
	assert.InDelta(t, boxArea, area, 1e-12, "cells cover the box exactly once")

	// Neighbours share edges, so there are neither gaps nor overlaps.
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			c := plan.Targets[row*size+col].Cell
			if col+1 < size {
				assert.Equal(t, c.Bounds.East, plan.Targets[row*size+col+1].Cell.Bounds.West)
			}
			if row+1 < size {
				assert.Equal(t, c.Bounds.South, plan.Targets[(row+1)*size+col].Cell.Bounds.North)
			}
		}
	}
	assert.Equal(t, box.North, plan.Targets[0].Cell.Bounds.North)
	assert.Equal(t, box.West, plan.Targets[0].Cell.Bounds.West)
	last := plan.Targets[len(plan.Targets)-1].Cell
	assert.Equal(t, box.South, last.Bounds.South)
	assert.Equal(t, box.East, last.Bounds.East)
	assert.Equal(t, "A1", plan.Targets[0].Cell.Label)
	assert.Equal(t, "C3", last.Label)
}

func TestBoundingBoxSpansRadius(t *testing.T) {
	box := BoundingBoxAround(palermo, 1.5)
	north := models.Coordinate{Lat: box.North, Lng: palermo.Lng}
	east := models.Coordinate{Lat: palermo.Lat, Lng: box.East}
	assert.InDelta(t, 1.5, HaversineKm(palermo, north), 0.02)
	assert.InDelta(t, 1.5, HaversineKm(palermo, east), 0.02)
}

func TestZoomIsMonotonic(t *testing.T) {
	p := newTestPlanner(t)
	sizes := []float64{0.1, 0.5, 0.9, 1.5, 3, 6, 12, 20, 50, 200}
	sort.Float64s(sizes)
	prev := math.MaxInt
	for _, km := range sizes {
		z := p.tables.zoomFor(km)
		assert.LessOrEqual(t, z, prev, "cell %.1fkm", km)
		prev = z
	}
	assert.Equal(t, 16, p.BuildPlan("Palermo", &palermo).Targets[0].Cell.Zoom)
}

func TestLargerTiersUseLowerZoom(t *testing.T) {
	p := newTestPlanner(t)
	tiny := p.BuildPlan("Palermo", &palermo)
	large := p.BuildPlan("Buenos Aires", &palermo)
	require.Equal(t, ModeGrid, large.Mode)
	assert.Len(t, large.Targets, large.Extent.GridSize*large.Extent.GridSize)
	assert.Less(t, large.Targets[0].Cell.Zoom, tiny.Targets[0].Cell.Zoom)
}

func TestProvincePlanSweepsSettlements(t *testing.T) {
	p := newTestPlanner(t)
	plan := p.BuildPlan("Provincia de Córdoba", nil)
	require.Equal(t, ModeSettlements, plan.Mode)
	assert.Equal(t, "Córdoba", plan.Area)
	require.NotEmpty(t, plan.Targets)
	assert.Equal(t, "Córdoba, Córdoba", plan.Targets[0].Query)
	for _, target := range plan.Targets {
		assert.Nil(t, target.Cell)
	}
}

func TestRegionPlanUsesRegionTable(t *testing.T) {
	p := newTestPlanner(t)
	plan := p.BuildPlan("Zona Sur", nil)
	require.Equal(t, ModeSettlements, plan.Mode)
	assert.Equal(t, "Zona Sur", plan.Area)
	assert.Equal(t, "Avellaneda", plan.Targets[0].Label)
}

func TestUnknownProvinceFallsBackToDirections(t *testing.T) {
	p := newTestPlanner(t)
	plan := p.BuildPlan("Provincia de Atlantis", nil)
	require.Equal(t, ModeSettlements, plan.Mode)
	assert.Empty(t, plan.Area)
	require.Len(t, plan.Targets, 5)
	assert.Equal(t, "Provincia de Atlantis norte", plan.Targets[0].Query)
}

func TestGridWithoutCenterIsSimple(t *testing.T) {
	p := newTestPlanner(t)
	plan := p.BuildPlan("Palermo", nil)
	assert.Equal(t, ModeSimple, plan.Mode)
	assert.Empty(t, plan.Targets)

	p.RememberCenter("PALERMO", palermo)
	plan = p.BuildPlan("Palermo", nil)
	assert.Equal(t, ModeGrid, plan.Mode)
	assert.Len(t, plan.Targets, 9)
}

func TestParseCenter(t *testing.T) {
	c, zoom, ok := ParseCenter("https://www.google.com/maps/search/restaurantes+palermo/@-34.5889,-58.4306,15z?entry=ttu")
	require.True(t, ok)
	assert.InDelta(t, -34.5889, c.Lat, 1e-9)
	assert.InDelta(t, -58.4306, c.Lng, 1e-9)
	assert.InDelta(t, 15, zoom, 1e-9)

	_, _, ok = ParseCenter("https://www.google.com/maps/search/restaurantes")
	assert.False(t, ok)
	_, _, ok = ParseCenter("https://www.google.com/maps/@-134.5,-58.4,15z")
	assert.False(t, ok)
}

func TestSearchURL(t *testing.T) {
	cell := models.GridCell{Center: palermo, Zoom: 15}
	assert.Equal(t,
		"https://www.google.com/maps/search/restaurantes%20en%20Palermo/@-34.5889000,-58.4306000,15z",
		SearchURL("https://www.google.com/maps/search/", "restaurantes en Palermo", &cell))
	assert.Equal(t,
		"https://www.google.com/maps/search/caf%C3%A9",
		SearchURL("https://www.google.com/maps/search/", "café", nil))
}

func TestCellLabels(t *testing.T) {
	assert.Equal(t, "A1", cellLabel(0, 0))
	assert.Equal(t, "B3", cellLabel(1, 2))
	assert.Equal(t, "AA1", cellLabel(26, 0))
}
