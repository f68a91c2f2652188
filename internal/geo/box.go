package geo

import (
	"github.com/twpayne/go-geom"
)

// DefaultTolerance is the half-width, in degrees, of the linking search box
// (~100 m in latitude).
const DefaultTolerance = 0.001

// Box returns the axis-aligned bounds of half-width halfWidth around a point.
// X is longitude and Y is latitude.
func Box(lat, lon, halfWidth float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(lon-halfWidth, lat-halfWidth, lon+halfWidth, lat+halfWidth)
}

// InBox reports whether the point lies within or on the border of b.
func InBox(b *geom.Bounds, lat, lon float64) bool {
	return b.OverlapsPoint(geom.XY, geom.Coord{lon, lat})
}

// SquaredDistance is the squared Euclidean distance in (lat, lon) degree space.
// No geodesic correction is applied; at the linking scale it only ranks
// candidates.
func SquaredDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat1 - lat2
	dLon := lon1 - lon2
	return dLat*dLat + dLon*dLon
}
