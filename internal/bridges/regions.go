package bridges

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/bridgeping/pkg/overpass"
)

// Region is a named query box. Its name is the fallback city of the bridges
// found in it.
type Region struct {
	Name   string  `yaml:"name"`
	MinLon float64 `yaml:"min_lon"`
	MinLat float64 `yaml:"min_lat"`
	MaxLon float64 `yaml:"max_lon"`
	MaxLat float64 `yaml:"max_lat"`
}

// BBox returns the region as an Overpass query area.
func (r Region) BBox() overpass.BBox {
	return overpass.BBox{MinLon: r.MinLon, MinLat: r.MinLat, MaxLon: r.MaxLon, MaxLat: r.MaxLat}
}

// Validate rejects empty or inverted boxes.
func (r Region) Validate() error {
	if r.Name == "" {
		return eris.New("bridges: region name is required")
	}
	if r.MinLon >= r.MaxLon || r.MinLat >= r.MaxLat {
		return eris.Errorf("bridges: region %s has an empty box", r.Name)
	}
	return nil
}

// DefaultRegions returns the Dutch cities with movable bridges in the feed.
// Several boxes overlap.
func DefaultRegions() []Region {
	return []Region{
		{Name: "Amsterdam", MinLon: 4.7, MinLat: 52.3, MaxLon: 5.1, MaxLat: 52.45},
		{Name: "Rotterdam", MinLon: 4.3, MinLat: 51.85, MaxLon: 4.65, MaxLat: 52.0},
		{Name: "Den Haag", MinLon: 4.2, MinLat: 52.0, MaxLon: 4.45, MaxLat: 52.15},
		{Name: "Utrecht", MinLon: 5.0, MinLat: 52.0, MaxLon: 5.2, MaxLat: 52.15},
		{Name: "Eindhoven", MinLon: 5.4, MinLat: 51.4, MaxLon: 5.55, MaxLat: 51.5},
		{Name: "Groningen", MinLon: 6.45, MinLat: 53.15, MaxLon: 6.65, MaxLat: 53.3},
		{Name: "Haarlem", MinLon: 4.55, MinLat: 52.35, MaxLon: 4.7, MaxLat: 52.42},
		{Name: "Alkmaar", MinLon: 4.7, MinLat: 52.6, MaxLon: 4.8, MaxLat: 52.65},
		{Name: "Zaandam", MinLon: 4.75, MinLat: 52.4, MaxLon: 4.9, MaxLat: 52.5},
	}
}

type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadRegions reads a YAML file with a top-level regions list.
func LoadRegions(path string) ([]Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bridges: read regions file %s", path)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "bridges: parse regions file %s", path)
	}
	if len(f.Regions) == 0 {
		return nil, eris.Errorf("bridges: regions file %s lists no regions", path)
	}
	for _, r := range f.Regions {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Regions, nil
}
