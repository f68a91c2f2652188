package bridges

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/label"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/pkg/nominatim"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

type fakeGeocoder struct {
	mu     sync.Mutex
	places map[float64]*nominatim.Place
	err    error
	calls  int
	// onCall runs before each lookup with the 1-based call number.
	onCall func(n int)
}

func (f *fakeGeocoder) Reverse(_ context.Context, lat, _ float64) (*nominatim.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall(f.calls)
	}
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.places[lat]; ok {
		return p, nil
	}
	return &nominatim.Place{}, nil
}

type fakeFeatures struct {
	mu     sync.Mutex
	nearby map[float64]*overpass.Nearby
	err    error
	calls  int
}

func (f *fakeFeatures) Nearby(_ context.Context, lat, _, _ float64) (*overpass.Nearby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if n, ok := f.nearby[lat]; ok {
		return n, nil
	}
	return &overpass.Nearby{}, nil
}

func TestCombine(t *testing.T) {
	unnamed := model.Bridge{ID: 1, Tags: map[string]string{"addr:street": "Tagstraat"}}
	named := model.Bridge{ID: 2, Name: "Magere Brug"}

	tests := []struct {
		name   string
		bridge model.Bridge
		place  *nominatim.Place
		nearby *overpass.Nearby
		want   model.Enrichment
	}{
		{
			"geocode street and water",
			unnamed,
			&nominatim.Place{Street: "Keizersgracht", Water: "Amstel", Neighborhood: "Centrum", DisplayName: "long"},
			nil,
			model.Enrichment{BridgeID: 1, StreetName: "Keizersgracht", WaterName: "Amstel", Neighborhood: "Centrum", DisplayName: "Keizersgracht over Amstel"},
		},
		{
			"tag street, nearby water",
			unnamed,
			nil,
			&overpass.Nearby{Streets: []string{"Anders"}, Waterways: []string{"Singel", "IJ"}},
			model.Enrichment{BridgeID: 1, StreetName: "Tagstraat", WaterName: "Singel", DisplayName: "Tagstraat over Singel"},
		},
		{
			"nearby street only",
			model.Bridge{ID: 3},
			nil,
			&overpass.Nearby{Streets: []string{"Amstel", "Zwanenburgwal"}},
			model.Enrichment{BridgeID: 3, StreetName: "Amstel", DisplayName: "Amstel Bridge"},
		},
		{
			"named bridge uses geocode display",
			named,
			&nominatim.Place{Street: "Amstel", DisplayName: "Magere Brug, Amstel, Amsterdam"},
			nil,
			model.Enrichment{BridgeID: 2, StreetName: "Amstel", DisplayName: "Magere Brug, Amstel, Amsterdam"},
		},
		{
			"nothing found",
			model.Bridge{ID: 4},
			nil,
			nil,
			model.Enrichment{BridgeID: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(tt.bridge, tt.place, tt.nearby))
		})
	}
}

func TestEnricher_Run(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertBridges(ctx, []model.Bridge{
		{OSMID: "way/1", Name: "Magere Brug", City: "Amsterdam", Latitude: 52.1, Longitude: 4.9},
		{OSMID: "way/2", City: "Amsterdam", Latitude: 52.2, Longitude: 4.9},
		{OSMID: "way/3", City: "Leiden", Latitude: 52.3, Longitude: 4.5},
	})
	require.NoError(t, err)

	geo := &fakeGeocoder{places: map[float64]*nominatim.Place{
		52.1: {DisplayName: "Magere Brug, Amstel"},
		52.2: {Street: "Keizersgracht", Neighborhood: "Grachtengordel"},
	}}
	feat := &fakeFeatures{nearby: map[float64]*overpass.Nearby{
		52.2: {Waterways: []string{"Amstel"}},
	}}

	res, err := NewEnricher(st, geo, feat, EnrichOptions{CommitEvery: 2}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Enriched)
	assert.Equal(t, 1, res.Fallback)
	assert.Equal(t, 2, res.Commits)
	assert.Equal(t, 3, geo.calls)
	assert.Equal(t, 3, feat.calls)

	all, err := st.ListBridges(ctx)
	require.NoError(t, err)
	byOSM := map[string]model.Bridge{}
	for _, b := range all {
		byOSM[b.OSMID] = b
		assert.NotNil(t, b.EnrichedAt, b.OSMID)
	}
	assert.Equal(t, "Magere Brug, Amstel", byOSM["way/1"].DisplayName)
	assert.Equal(t, "Keizersgracht over Amstel", byOSM["way/2"].DisplayName)
	assert.Equal(t, "Grachtengordel", byOSM["way/2"].Neighborhood)
	assert.Empty(t, byOSM["way/3"].DisplayName)
	assert.Equal(t, "Bridge in Leiden", label.Resolve(byOSM["way/3"]))

	left, err := st.UnenrichedBridges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, left, "every processed bridge leaves the queue")
}

func TestEnricher_LookupFailuresDegrade(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertBridges(ctx, []model.Bridge{
		{OSMID: "way/1", Latitude: 52.37, Longitude: 4.89},
	})
	require.NoError(t, err)

	boom := errors.New("timeout")
	res, err := NewEnricher(st, &fakeGeocoder{err: boom}, &fakeFeatures{err: boom}, EnrichOptions{}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.LookupErrors)
	assert.Equal(t, 1, res.Fallback)

	all, err := st.ListBridges(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Empty(t, all[0].DisplayName)
	assert.NotNil(t, all[0].EnrichedAt)
	assert.Equal(t, "Bridge at 52.37000, 4.89000", label.Resolve(all[0]))
}

func TestEnricher_NothingFoundKeepsResolverLabel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertBridges(ctx, []model.Bridge{
		{OSMID: "way/1", City: "Amsterdam", Latitude: 52.37, Longitude: 4.89},
	})
	require.NoError(t, err)

	before, err := st.ListBridges(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, "Bridge in Amsterdam", label.Resolve(before[0]))

	res, err := NewEnricher(st, &fakeGeocoder{}, &fakeFeatures{}, EnrichOptions{}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fallback)

	after, err := st.ListBridges(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Empty(t, after[0].DisplayName)
	assert.Equal(t, "Bridge in Amsterdam", label.Resolve(after[0]))

	// The bridge is not queued again.
	left, err := st.UnenrichedBridges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	res, err = NewEnricher(st, &fakeGeocoder{}, &fakeFeatures{}, EnrichOptions{}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
}

func TestEnricher_BreakerShedsCalls(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var batch []model.Bridge
	for i := 0; i < 4; i++ {
		batch = append(batch, model.Bridge{OSMID: ExternalID("node", int64(i+1)), Latitude: 52 + float64(i)/10, Longitude: 4.9})
	}
	_, err := st.UpsertBridges(ctx, batch)
	require.NoError(t, err)

	geo := &fakeGeocoder{err: errors.New("down")}
	feat := &fakeFeatures{}
	res, err := NewEnricher(st, geo, feat, EnrichOptions{BreakerThreshold: 2}).Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 2, geo.calls, "breaker opens after two failures")
	assert.Equal(t, 4, feat.calls)
	assert.Equal(t, 2, res.LookupErrors)
}

func TestEnricher_Limit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.UpsertBridges(ctx, []model.Bridge{
		{OSMID: "way/1", Name: "Named", Latitude: 52.1, Longitude: 4.9},
		{OSMID: "way/2", Latitude: 52.2, Longitude: 4.9},
	})
	require.NoError(t, err)

	res, err := NewEnricher(st, &fakeGeocoder{}, &fakeFeatures{}, EnrichOptions{}).Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	left, err := st.UnenrichedBridges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "way/1", left[0].OSMID, "unnamed bridges go first")
}

func TestEnricher_CancelCommitsProcessed(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertBridges(context.Background(), []model.Bridge{
		{OSMID: "way/1", Latitude: 52.1, Longitude: 4.9},
		{OSMID: "way/2", Latitude: 52.2, Longitude: 4.9},
		{OSMID: "way/3", Latitude: 52.3, Longitude: 4.9},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	geo := &fakeGeocoder{onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	res, err := NewEnricher(st, geo, &fakeFeatures{}, EnrichOptions{}).Run(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Commits)

	left, err := st.UnenrichedBridges(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
