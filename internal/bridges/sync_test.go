package bridges

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/store"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type fakeSource struct {
	byRegion map[float64][]overpass.Element
	fail     map[float64]error
	calls    int
}

func (f *fakeSource) Bridges(_ context.Context, b overpass.BBox) ([]overpass.Element, error) {
	f.calls++
	if err := f.fail[b.MinLon]; err != nil {
		return nil, err
	}
	return f.byRegion[b.MinLon], nil
}

var (
	regionA = Region{Name: "A", MinLon: 1, MinLat: 50, MaxLon: 2, MaxLat: 51}
	regionB = Region{Name: "B", MinLon: 1.5, MinLat: 50, MaxLon: 3, MaxLat: 51}
)

func node(id int64, lat, lon float64, tags map[string]string) overpass.Element {
	return overpass.Element{Type: "node", ID: id, Lat: ptr(lat), Lon: ptr(lon), Tags: tags}
}

func TestSyncer_OverlappingRegions(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{byRegion: map[float64][]overpass.Element{
		1: {
			node(1, 50.5, 1.6, map[string]string{"bridge": "yes"}),
			node(2, 50.6, 1.2, map[string]string{"bridge": "movable", "name": "West"}),
		},
		1.5: {
			node(1, 50.5, 1.6, map[string]string{"bridge": "yes", "name": "Shared"}),
			node(3, 50.7, 2.5, map[string]string{"bridge": "yes"}),
		},
	}}

	res, err := NewSyncer(st, src, 0).Sync(context.Background(), []Region{regionA, regionB})
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 3, res.Unique)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Updated)

	all, err := st.ListBridges(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	names := map[string]string{}
	for _, b := range all {
		names[b.OSMID] = b.Name
	}
	assert.Equal(t, "Shared", names["node/1"])

	res, err = NewSyncer(st, src, 0).Sync(context.Background(), []Region{regionA, regionB})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Updated)
}

func TestSyncer_RegionFailureSkipped(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{
		byRegion: map[float64][]overpass.Element{1.5: {node(3, 50.7, 2.5, map[string]string{"bridge": "yes"})}},
		fail:     map[float64]error{1: errors.New("gateway timeout")},
	}

	res, err := NewSyncer(st, src, 0).Sync(context.Background(), []Region{regionA, regionB})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RegionsFailed)
	assert.Equal(t, 1, res.Inserted)
}

func TestSyncer_AllRegionsFail(t *testing.T) {
	boom := errors.New("down")
	src := &fakeSource{fail: map[float64]error{1: boom, 1.5: boom}}

	res, err := NewSyncer(newTestStore(t), src, 0).Sync(context.Background(), []Region{regionA, regionB})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, res.RegionsFailed)
}

func TestSyncer_NoRegions(t *testing.T) {
	_, err := NewSyncer(newTestStore(t), &fakeSource{}, 0).Sync(context.Background(), nil)
	assert.Error(t, err)
}

func TestSyncer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSyncer(newTestStore(t), &fakeSource{}, 1).Sync(ctx, []Region{regionA, regionB})
	assert.ErrorIs(t, err, context.Canceled)
}
