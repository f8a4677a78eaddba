package geo

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Tier names, smallest first.
const (
	TierTiny     = "tiny"
	TierSmall    = "small"
	TierMedium   = "medium"
	TierLarge    = "large"
	TierRegion   = "region"
	TierProvince = "province"
)

// TierSpec binds an extent tier to its search radius and grid size.
type TierSpec struct {
	Name     string   `yaml:"name"`
	RadiusKm float64  `yaml:"radius_km"`
	GridSize int      `yaml:"grid_size"`
	Keywords []string `yaml:"keywords"`
}

// Area is a province or region with the settlements swept one by one.
type Area struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases"`
	Settlements []string `yaml:"settlements"`
}

// ZoomStep maps cells with an edge up to MaxCellKm onto Zoom. A zero
// MaxCellKm matches everything larger.
type ZoomStep struct {
	MaxCellKm float64 `yaml:"max_cell_km"`
	Zoom      int     `yaml:"zoom"`
}

// Tables holds every heuristic table the planner consults.
type Tables struct {
	Tiers      []TierSpec `yaml:"tiers"`
	Provinces  []Area     `yaml:"provinces"`
	Regions    []Area     `yaml:"regions"`
	Directions []string   `yaml:"directions"`
	Zoom       []ZoomStep `yaml:"zoom"`
}

// LoadDefaultTables parses the embedded tables.
func LoadDefaultTables() (Tables, error) {
	var tables Tables
	for _, name := range []string{"data/extents.yaml", "data/places.yaml"} {
		raw, err := dataFS.ReadFile(name)
		if err != nil {
			return Tables{}, fmt.Errorf("read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(raw, &tables); err != nil {
			return Tables{}, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	if err := tables.validate(); err != nil {
		return Tables{}, err
	}
	return tables, nil
}

// MustDefaultTables is LoadDefaultTables for package initialisation paths.
func MustDefaultTables() Tables {
	tables, err := LoadDefaultTables()
	if err != nil {
		panic(err)
	}
	return tables
}

func (t Tables) validate() error {
	if len(t.Tiers) == 0 {
		return fmt.Errorf("no extent tiers defined")
	}
	for _, tier := range t.Tiers {
		if tier.GridSize < 1 || tier.RadiusKm <= 0 {
			return fmt.Errorf("tier %q needs a positive radius and grid size", tier.Name)
		}
	}
	if len(t.Zoom) == 0 {
		return fmt.Errorf("no zoom steps defined")
	}
	sorted := sort.SliceIsSorted(t.Zoom, func(i, j int) bool {
		a, b := t.Zoom[i].MaxCellKm, t.Zoom[j].MaxCellKm
		if a == 0 {
			return false
		}
		return b == 0 || a < b
	})
	if !sorted {
		return fmt.Errorf("zoom steps must be ordered by growing cell size")
	}
	for i := 1; i < len(t.Zoom); i++ {
		if t.Zoom[i].Zoom > t.Zoom[i-1].Zoom {
			return fmt.Errorf("zoom must not increase with cell size (row %d)", i)
		}
	}
	return nil
}

func (t Tables) tier(name string) (TierSpec, bool) {
	for _, tier := range t.Tiers {
		if tier.Name == name {
			return tier, true
		}
	}
	return TierSpec{}, false
}

// zoomFor returns the zoom for a cell edge of cellKm.
func (t Tables) zoomFor(cellKm float64) int {
	for _, step := range t.Zoom {
		if step.MaxCellKm == 0 || cellKm <= step.MaxCellKm {
			return step.Zoom
		}
	}
	return t.Zoom[len(t.Zoom)-1].Zoom
}
