package linker

import (
	"math"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

type cell struct{ x, y int64 }

// Index is a uniform grid over bridge coordinates with cells as wide as the
// tolerance. A query scans the cells its tolerance box covers, so every
// candidate the box accepts is visited.
type Index struct {
	tolerance float64
	cells     map[cell][]model.Bridge
}

// NewIndex indexes bridges for nearest-neighbour queries at tolerance.
func NewIndex(bridges []model.Bridge, tolerance float64) *Index {
	idx := &Index{tolerance: tolerance, cells: make(map[cell][]model.Bridge)}
	for _, b := range bridges {
		c := idx.cellOf(b.Latitude, b.Longitude)
		idx.cells[c] = append(idx.cells[c], b)
	}
	return idx
}

func (idx *Index) cellOf(lat, lon float64) cell {
	return cell{x: int64(math.Floor(lon / idx.tolerance)), y: int64(math.Floor(lat / idx.tolerance))}
}

// Nearest returns the bridge closest to lat/lon by squared coordinate
// distance among those inside the tolerance box. Ties go to the lowest id.
func (idx *Index) Nearest(lat, lon float64) (model.Bridge, bool) {
	box := geo.Box(lat, lon, idx.tolerance)
	// Cell range from the box bounds with the same floor as cellOf, so a
	// bridge on the box edge cannot fall outside the scanned cells.
	lo := idx.cellOf(box.Min(1), box.Min(0))
	hi := idx.cellOf(box.Max(1), box.Max(0))

	var (
		best     model.Bridge
		bestDist = math.Inf(1)
		found    bool
	)
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			for _, b := range idx.cells[cell{x: x, y: y}] {
				if !geo.InBox(box, b.Latitude, b.Longitude) {
					continue
				}
				d := geo.SquaredDistance(lat, lon, b.Latitude, b.Longitude)
				if !found || d < bestDist || (d == bestDist && b.ID < best.ID) {
					best, bestDist, found = b, d, true
				}
			}
		}
	}
	return best, found
}
