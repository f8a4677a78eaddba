// Package geo turns free-text locations into search plans sized by the
// estimated geographic extent of the place.
package geo

import (
	"strings"
	"sync"

	"github.com/Laza223/axxen-scraper-sub001/models"
)

// Extent is the estimated size class of a location.
type Extent struct {
	Tier     string
	RadiusKm float64
	GridSize int
}

// Mode says how a plan's targets are swept.
type Mode int

const (
	// ModeSimple has no targets; the caller falls back to query variants.
	ModeSimple Mode = iota
	// ModeGrid targets are grid cells around a known center.
	ModeGrid
	// ModeSettlements targets are named places searched by text.
	ModeSettlements
)

func (m Mode) String() string {
	switch m {
	case ModeGrid:
		return "grid"
	case ModeSettlements:
		return "settlements"
	default:
		return "simple"
	}
}

// Target is one stop in a plan. Cell is set for grid targets; Query is the
// place text for settlement and directional targets.
type Target struct {
	Label string
	Query string
	Cell  *models.GridCell
}

// Plan is the ordered list of targets for one location.
type Plan struct {
	Location string
	Extent   Extent
	Mode     Mode
	Area     string
	Bounds   models.BoundingBox
	Targets  []Target
}

// Planner classifies locations and shapes search plans. It never geocodes;
// centers come from the caller and are remembered per location.
type Planner struct {
	tables Tables

	mu      sync.RWMutex
	centers map[string]models.Coordinate
}

// NewPlanner creates a planner over tables.
func NewPlanner(tables Tables) *Planner {
	return &Planner{tables: tables, centers: make(map[string]models.Coordinate)}
}

// EstimateExtent classifies location into an extent tier. The longest tier
// keyword found in the first comma separated segment wins, except that a
// province marker always wins. Unmatched text is tiny unless it names a
// province anywhere.
func (p *Planner) EstimateExtent(location string) Extent {
	primary := Normalize(primarySegment(location))
	whole := Normalize(location)

	best, bestLen := "", 0
	for _, tier := range p.tables.Tiers {
		for _, kw := range tier.Keywords {
			nkw := Normalize(kw)
			if !containsPhrase(primary, nkw) {
				continue
			}
			// An explicit province marker outranks any city name next to it.
			if tier.Name == TierProvince {
				return p.extentFor(TierProvince)
			}
			if len(nkw) > bestLen {
				best, bestLen = tier.Name, len(nkw)
			}
		}
	}
	if best == "" {
		best = TierTiny
		if _, ok := p.findArea(p.tables.Provinces, whole); ok {
			best = TierProvince
		}
	}
	return p.extentFor(best)
}

func (p *Planner) extentFor(name string) Extent {
	tier, ok := p.tables.tier(name)
	if !ok {
		tier = p.tables.Tiers[0]
	}
	return Extent{Tier: tier.Name, RadiusKm: tier.RadiusKm, GridSize: tier.GridSize}
}

// BuildPlan shapes the targets for location. center may be nil when the
// caller could not recover one; grid tiers then yield ModeSimple.
func (p *Planner) BuildPlan(location string, center *models.Coordinate) Plan {
	extent := p.EstimateExtent(location)
	plan := Plan{Location: location, Extent: extent}

	switch extent.Tier {
	case TierProvince, TierRegion:
		areas := p.tables.Provinces
		if extent.Tier == TierRegion {
			areas = p.tables.Regions
		}
		plan.Mode = ModeSettlements
		if area, ok := p.findArea(areas, Normalize(location)); ok {
			plan.Area = area.Name
			for _, s := range area.Settlements {
				plan.Targets = append(plan.Targets, Target{Label: s, Query: s + ", " + area.Name})
			}
			return plan
		}
		for _, dir := range p.tables.Directions {
			plan.Targets = append(plan.Targets, Target{Label: dir, Query: location + " " + dir})
		}
		return plan
	}

	if center == nil {
		if known, ok := p.CenterFor(location); ok {
			center = &known
		}
	}
	if center == nil {
		plan.Mode = ModeSimple
		return plan
	}

	plan.Mode = ModeGrid
	plan.Bounds = BoundingBoxAround(*center, extent.RadiusKm)
	cellKm := 2 * extent.RadiusKm / float64(extent.GridSize)
	for _, cell := range BuildGrid(plan.Bounds, extent.GridSize, p.tables.zoomFor(cellKm)) {
		cell := cell
		plan.Targets = append(plan.Targets, Target{Label: cell.Label, Query: location, Cell: &cell})
	}
	return plan
}

// findArea returns the area whose name or alias occurs in text, preferring
// the longest alias.
func (p *Planner) findArea(areas []Area, text string) (Area, bool) {
	var best Area
	bestLen := 0
	for _, area := range areas {
		for _, alias := range append([]string{area.Name}, area.Aliases...) {
			na := Normalize(alias)
			if len(na) > bestLen && containsPhrase(text, na) {
				best, bestLen = area, len(na)
			}
		}
	}
	return best, bestLen > 0
}

// RememberCenter caches the center observed for location.
func (p *Planner) RememberCenter(location string, center models.Coordinate) {
	p.mu.Lock()
	p.centers[centerKey(location)] = center
	p.mu.Unlock()
}

// CenterFor returns a previously remembered center.
func (p *Planner) CenterFor(location string) (models.Coordinate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.centers[centerKey(location)]
	return c, ok
}

func centerKey(location string) string {
	return strings.TrimSpace(Normalize(location))
}
