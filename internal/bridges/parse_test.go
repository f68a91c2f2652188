package bridges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

func ptr(f float64) *float64 { return &f }

func TestParseElements(t *testing.T) {
	els := []overpass.Element{
		{Type: "node", ID: 1, Lat: ptr(52.37), Lon: ptr(4.89), Tags: map[string]string{
			"bridge": "movable", "name": "Magere Brug", "addr:city": "Amsterdam",
		}},
		{Type: "way", ID: 2, Center: &overpass.Center{Lat: 52.38, Lon: 4.9}, Tags: map[string]string{
			"man_made": "bridge", "bridge:name": "Blauwbrug", "addr:suburb": "Centrum",
		}},
		{Type: "way", ID: 3, Center: &overpass.Center{Lat: 52.39, Lon: 4.91}, Tags: map[string]string{
			"bridge": "yes", "official_name": "Officieel", "city": "Zaandam", "addr:municipality": "Zaanstad",
		}},
		{Type: "way", ID: 4, Tags: map[string]string{"bridge": "yes"}},
		{Type: "node", ID: 5, Lat: ptr(52.4), Lon: ptr(4.92)},
	}

	got := ParseElements(els, "Fallback")
	require.Len(t, got, 3)

	assert.Equal(t, "node/1", got[0].OSMID)
	assert.Equal(t, "Magere Brug", got[0].Name)
	assert.Equal(t, "Amsterdam", got[0].City)
	assert.Equal(t, "movable", got[0].BridgeType)
	assert.InDelta(t, 52.37, got[0].Latitude, 1e-12)

	assert.Equal(t, "way/2", got[1].OSMID)
	assert.Equal(t, "Blauwbrug", got[1].Name)
	assert.Equal(t, "Centrum", got[1].City)
	assert.Equal(t, "yes", got[1].BridgeType)
	assert.Equal(t, "bridge", got[1].Tags["man_made"])

	assert.Equal(t, "Officieel", got[2].Name)
	assert.Equal(t, "Zaandam", got[2].City)
}

func TestParseElements_FallbackCityAndTagCopy(t *testing.T) {
	tags := map[string]string{"bridge": "yes"}
	got := ParseElements([]overpass.Element{{Type: "node", ID: 9, Lat: ptr(1), Lon: ptr(2), Tags: tags}}, "Utrecht")
	require.Len(t, got, 1)
	assert.Equal(t, "Utrecht", got[0].City)
	assert.Empty(t, got[0].Name)

	got[0].Tags["bridge"] = "changed"
	assert.Equal(t, "yes", tags["bridge"])
}

func TestParseElements_InvalidCoordinates(t *testing.T) {
	got := ParseElements([]overpass.Element{
		{Type: "node", ID: 1, Lat: ptr(95), Lon: ptr(4), Tags: map[string]string{"bridge": "yes"}},
	}, "")
	assert.Empty(t, got)
}

func TestDedupe_LaterNameWinsForSameExternalID(t *testing.T) {
	got := Dedupe([]model.Bridge{
		{OSMID: "way/1", Latitude: 52.37, Longitude: 4.89},
		{OSMID: "way/1", Name: "Magere Brug", Latitude: 52.37, Longitude: 4.89},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "Magere Brug", got[0].Name)
}

func TestDedupe_ClusterPrefersNamed(t *testing.T) {
	got := Dedupe([]model.Bridge{
		{OSMID: "way/1", Latitude: 52.370001, Longitude: 4.890001},
		{OSMID: "way/9", Name: "Other", Latitude: 52.5, Longitude: 4.5},
		{OSMID: "node/2", Name: "Named", Latitude: 52.370002, Longitude: 4.890002},
		{OSMID: "node/3", Name: "Later", Latitude: 52.37, Longitude: 4.89},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "node/2", got[0].OSMID, "named member replaces unnamed, keeps group position")
	assert.Equal(t, "way/9", got[1].OSMID)
}

func TestDedupe_FirstSeenWinsAmongNamed(t *testing.T) {
	got := Dedupe([]model.Bridge{
		{OSMID: "way/1", Name: "First", Latitude: 52.37, Longitude: 4.89},
		{OSMID: "way/2", Name: "Second", Latitude: 52.37, Longitude: 4.89},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "First", got[0].Name)
}

func TestDedupe_AdjacentBridgesKept(t *testing.T) {
	got := Dedupe([]model.Bridge{
		{OSMID: "way/1", Latitude: 52.37000, Longitude: 4.89},
		{OSMID: "way/2", Latitude: 52.37002, Longitude: 4.89},
	})
	assert.Len(t, got, 2)
}

func TestExternalID(t *testing.T) {
	assert.Equal(t, "way/123", ExternalID("way", 123))
}
