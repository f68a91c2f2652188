package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

func TestIndex_Nearest(t *testing.T) {
	idx := NewIndex([]model.Bridge{
		{ID: 1, Latitude: 52.3700, Longitude: 4.8900},
		{ID: 2, Latitude: 52.3706, Longitude: 4.8906},
		{ID: 3, Latitude: 52.4, Longitude: 4.9},
	}, geo.DefaultTolerance)

	b, ok := idx.Nearest(52.3705, 4.8905)
	require.True(t, ok)
	assert.Equal(t, int64(2), b.ID)

	b, ok = idx.Nearest(52.3701, 4.8899)
	require.True(t, ok)
	assert.Equal(t, int64(1), b.ID)

	_, ok = idx.Nearest(52.38, 4.89)
	assert.False(t, ok)
}

func TestIndex_OrderIndependent(t *testing.T) {
	a := model.Bridge{ID: 7, Latitude: 52.3702, Longitude: 4.8900}
	b := model.Bridge{ID: 3, Latitude: 52.3702, Longitude: 4.8900}
	c := model.Bridge{ID: 5, Latitude: 52.3698, Longitude: 4.8903}

	for _, order := range [][]model.Bridge{{a, b, c}, {c, b, a}, {b, c, a}} {
		got, ok := NewIndex(order, geo.DefaultTolerance).Nearest(52.3701, 4.8900)
		require.True(t, ok)
		assert.Equal(t, int64(3), got.ID)
	}
}

func TestIndex_CellBoundaries(t *testing.T) {
	// The query sits near a cell edge; the candidate lies in the neighbouring cell.
	idx := NewIndex([]model.Bridge{{ID: 1, Latitude: -0.0004, Longitude: -0.0004}}, geo.DefaultTolerance)
	b, ok := idx.Nearest(0.0004, 0.0004)
	require.True(t, ok)
	assert.Equal(t, int64(1), b.ID)
}

func TestIndex_InclusiveBox(t *testing.T) {
	idx := NewIndex([]model.Bridge{{ID: 1, Latitude: 0.5, Longitude: 0.5}}, 0.5)
	_, ok := idx.Nearest(0, 0)
	assert.True(t, ok)
}

func TestIndex_AgreesWithBoxAtEdges(t *testing.T) {
	tol := geo.DefaultTolerance
	offsets := [][2]float64{
		{-tol, 0}, {tol, 0}, {0, -tol}, {0, tol},
		{-tol, -tol}, {tol, tol}, {-tol, tol}, {tol, -tol},
	}

	// High latitudes, where tolerance-sized cells and box edges round apart.
	for i := 0; i < 2000; i++ {
		key := geo.Normalize(64+float64(i)*0.0001, 5+float64(i)*0.0001)
		lat, lon := key.Lat(), key.Lon()
		box := geo.Box(lat, lon, tol)

		for _, off := range offsets {
			b := model.Bridge{ID: 1, Latitude: lat + off[0], Longitude: lon + off[1]}
			want := geo.InBox(box, b.Latitude, b.Longitude)
			_, got := NewIndex([]model.Bridge{b}, tol).Nearest(lat, lon)
			if !assert.Equal(t, want, got, "key %s bridge %v,%v", key, b.Latitude, b.Longitude) {
				return
			}
		}
	}
}

func TestIndex_EdgeBridgeAtHighLatitude(t *testing.T) {
	b := model.Bridge{ID: 9, Latitude: 64.002, Longitude: 5.0}
	box := geo.Box(64.003, 5.0, geo.DefaultTolerance)

	_, ok := NewIndex([]model.Bridge{b}, geo.DefaultTolerance).Nearest(64.003, 5.0)
	assert.Equal(t, geo.InBox(box, b.Latitude, b.Longitude), ok)
}
