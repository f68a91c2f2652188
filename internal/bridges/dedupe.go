package bridges

import (
	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

// Dedupe removes duplicate sightings from a multi-region fetch.
//
// Repeated external ids collapse to the last sighting, kept at the position of
// the first. Candidates are then grouped by 5-decimal coordinate; each group
// keeps its first member unless a later one has a name and the kept one does
// not. Groups stay in first-seen order.
func Dedupe(candidates []model.Bridge) []model.Bridge {
	byID := make(map[string]int, len(candidates))
	collapsed := make([]model.Bridge, 0, len(candidates))
	for _, c := range candidates {
		if i, ok := byID[c.OSMID]; ok {
			collapsed[i] = c
			continue
		}
		byID[c.OSMID] = len(collapsed)
		collapsed = append(collapsed, c)
	}

	byCluster := make(map[geo.ClusterKey]int, len(collapsed))
	out := make([]model.Bridge, 0, len(collapsed))
	for _, c := range collapsed {
		key := geo.Cluster(c.Latitude, c.Longitude)
		i, ok := byCluster[key]
		if !ok {
			byCluster[key] = len(out)
			out = append(out, c)
			continue
		}
		if out[i].Name == "" && c.Name != "" {
			out[i] = c
		}
	}
	return out
}
