// Package bridges maintains the bridge catalog: it fetches OpenStreetMap
// bridges per region, removes duplicate sightings, upserts them and enriches
// them with street and water names.
package bridges

import (
	"fmt"
	"maps"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

const defaultBridgeType = "yes"

var (
	nameTags = []string{"name", "bridge:name", "official_name"}
	cityTags = []string{"addr:city", "city", "addr:municipality", "addr:suburb", "addr:district"}
)

// ParseElements converts Overpass elements to bridge candidates. Elements
// without tags or coordinates are dropped. fallbackCity is used when no tag
// names the city.
func ParseElements(elements []overpass.Element, fallbackCity string) []model.Bridge {
	out := make([]model.Bridge, 0, len(elements))
	for _, el := range elements {
		if len(el.Tags) == 0 {
			continue
		}
		lat, lon, ok := el.Position()
		if !ok || !geo.Valid(lat, lon) {
			continue
		}

		city := firstTag(el.Tags, cityTags)
		if city == "" {
			city = fallbackCity
		}
		bridgeType := el.Tags["bridge"]
		if bridgeType == "" {
			bridgeType = defaultBridgeType
		}

		out = append(out, model.Bridge{
			OSMID:      ExternalID(el.Type, el.ID),
			Name:       firstTag(el.Tags, nameTags),
			City:       city,
			Latitude:   lat,
			Longitude:  lon,
			BridgeType: bridgeType,
			Tags:       maps.Clone(el.Tags),
		})
	}
	return out
}

// ExternalID is the catalog identity of an OSM element.
func ExternalID(elementType string, id int64) string {
	return fmt.Sprintf("%s/%d", elementType, id)
}

func firstTag(tags map[string]string, keys []string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}
